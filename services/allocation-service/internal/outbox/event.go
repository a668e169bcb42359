package outbox

// Event is the domain event envelope written to the outbox table. The Kafka
// topic name equals EventType (event per topic).
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Appointment lifecycle topics consumed by the notification and analytics
// services.
const (
	EventAppointmentScheduled   = "allocation.appointment.scheduled.v1"
	EventAppointmentConfirmed   = "allocation.appointment.confirmed.v1"
	EventAppointmentStarted     = "allocation.appointment.started.v1"
	EventAppointmentCompleted   = "allocation.appointment.completed.v1"
	EventAppointmentCancelled   = "allocation.appointment.cancelled.v1"
	EventAppointmentNoShow      = "allocation.appointment.no_show.v1"
	EventAppointmentRescheduled = "allocation.appointment.rescheduled.v1"
)
