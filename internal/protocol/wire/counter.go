package wire

// Application methods exposed by the counter application.
const (
	MethodIncreaseCount = "increase_count"
	MethodGetCount      = "get_count"
	MethodReset         = "reset"
)

// IncreaseCountArgs are the arguments of increase_count.
type IncreaseCountArgs struct {
	Count int64 `json:"count"`
}

// GetCountOutput is the output of get_count. Count is a pointer so that a
// present zero is distinguishable from an absent field.
type GetCountOutput struct {
	Count *int64 `json:"count"`
}
