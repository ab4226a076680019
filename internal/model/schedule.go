package model

// OpenWindow is the opening window of a single day. Bounds are expressed in
// minutes after midnight; a closed day has Open == false.
type OpenWindow struct {
	Open        bool `json:"open"`
	StartMinute int  `json:"start_minute"`
	EndMinute   int  `json:"end_minute"`
}

// DayHours is one row of the weekly template as exposed to clients.
type DayHours struct {
	Day    string `json:"day"`
	Open   bool   `json:"open"`
	Opens  string `json:"opens,omitempty"`
	Closes string `json:"closes,omitempty"`
}
