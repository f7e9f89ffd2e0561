package models

// Request builders pre-populate a RoutingRequest for the common call
// patterns. They are plain factories; none of them carries logic the
// router does not already apply.

// NewRoutingRequest returns a balanced general-purpose request.
func NewRoutingRequest(messages []Message) *RoutingRequest {
	return &RoutingRequest{
		Messages:    messages,
		Priority:    PriorityNormal,
		RequestType: RequestTypeGeneral,
	}
}

// NewPhilosophicalRequest returns a request tuned for philosophical
// content, where type-specific accuracy outweighs raw speed.
func NewPhilosophicalRequest(messages []Message) *RoutingRequest {
	return &RoutingRequest{
		Messages:    messages,
		Priority:    PriorityHigh,
		RequestType: RequestTypePhilosophical,
	}
}

// NewCostOptimizedRequest returns a request that favors the cheapest
// eligible backend.
func NewCostOptimizedRequest(messages []Message) *RoutingRequest {
	return &RoutingRequest{
		Messages:    messages,
		Priority:    PriorityLow,
		RequestType: RequestTypeGeneral,
	}
}

// NewHighQualityRequest returns a request that insists on a strong
// quality profile regardless of cost.
func NewHighQualityRequest(messages []Message) *RoutingRequest {
	minQuality := 0.8
	return &RoutingRequest{
		Messages:    messages,
		Priority:    PriorityHigh,
		RequestType: RequestTypeGeneral,
		MinQuality:  &minQuality,
	}
}
