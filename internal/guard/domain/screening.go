package domain

// ScreeningResponse is returned synchronously to the platform's call screening hook.
type ScreeningResponse struct {
	Disallow         bool `json:"disallow"`
	Reject           bool `json:"reject"`
	SkipLog          bool `json:"skipLog"`
	SkipNotification bool `json:"skipNotification"`
}

// AllowCall lets the call through untouched.
func AllowCall() ScreeningResponse { return ScreeningResponse{} }

// RejectCall disallows and rejects the call while keeping it in the call log
// and notification shade.
func RejectCall() ScreeningResponse {
	return ScreeningResponse{Disallow: true, Reject: true, SkipLog: false, SkipNotification: false}
}
