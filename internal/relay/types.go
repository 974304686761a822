package relay

// Wire types for the relay service HTTP contract. Field names follow the
// relay's JSON exactly; keep these types free of business logic.

type originateRequest struct {
	To       string `json:"to"`
	From     string `json:"from"`
	TenantID string `json:"tenantId"`
	UserID   string `json:"userId"`
}

type hangupRequest struct {
	CallSid string `json:"callSid"`
}

type muteRequest struct {
	CallSid string `json:"callSid"`
}

type dtmfRequest struct {
	CallSid string `json:"callSid"`
	Digits  string `json:"digits"`
}

// commandResponse is the envelope every /call/* endpoint returns.
type commandResponse struct {
	Success      bool   `json:"success"`
	CallID       string `json:"callId,omitempty"`
	CallRecordID string `json:"callRecordId,omitempty"`
	Message      string `json:"message,omitempty"`
}

type numbersResponse struct {
	PhoneNumbers []numberEntry `json:"phoneNumbers"`
}

type numberEntry struct {
	Number   string `json:"number"`
	IsActive bool   `json:"isActive"`
}
