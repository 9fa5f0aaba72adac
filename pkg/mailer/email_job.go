package mailer

// EmailJob is the JSON payload put on the RabbitMQ queue for sending email.
// Either Subject+HTML are set (pre-rendered by the producer) or Template and
// Data name a server-side template for the worker to render.
type EmailJob struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject,omitempty"`
	Text     string         `json:"text,omitempty"`
	HTML     string         `json:"html,omitempty"`
	Template string         `json:"template,omitempty"` // e.g. "reset_password", "welcome"
	Data     map[string]any `json:"data,omitempty"`
}
