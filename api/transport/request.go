package transport

// RecordRequest asks the service to journal the current persisted state of a journable.
type RecordRequest struct {
	Notes             string `json:"notes"`
	SendNotifications *bool  `json:"send_notifications"`
}
