package call

import "time"

// DialRequest is the provider-facing create-call payload. Markup is the
// rendered XML handed verbatim to the provider.
type DialRequest struct {
	To                   string        `json:"to"`
	From                 string        `json:"from"`
	Markup               string        `json:"markup"`
	RingTimeout          time.Duration `json:"ring_timeout"`
	Record               bool          `json:"record"`
	StatusCallbackURL    string        `json:"status_callback_url"`
	GatherCallbackURL    string        `json:"gather_callback_url"`
	StatusCallbackEvents []string      `json:"status_callback_events"`
}

// DialResponse is the provider's accept of a create-call request.
type DialResponse struct {
	ProviderCallID string `json:"provider_call_id"`
	Status         string `json:"status"`
}
