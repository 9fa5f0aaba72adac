package mailer

import (
	"context"

	"github.com/forgestack/auth-api/pkg/helpers"
)

// QueueNotifier enqueues email jobs on RabbitMQ; the email worker delivers
// them. A publish failure is surfaced to the caller so it can compensate.
type QueueNotifier struct {
	Pub *helpers.RabbitPublisher
}

func NewQueueNotifier(pub *helpers.RabbitPublisher) *QueueNotifier {
	return &QueueNotifier{Pub: pub}
}

func (n *QueueNotifier) Send(ctx context.Context, to, subject, html string) error {
	return n.Pub.PublishJSON(ctx, EmailJob{To: to, Subject: subject, HTML: html})
}

// DirectNotifier sends synchronously through Mailgun, for deployments that
// run without a queue.
type DirectNotifier struct {
	MG *Mailgun
}

func NewDirectNotifier(mg *Mailgun) *DirectNotifier {
	return &DirectNotifier{MG: mg}
}

func (n *DirectNotifier) Send(ctx context.Context, to, subject, html string) error {
	return n.MG.Send(ctx, to, subject, "", html)
}
