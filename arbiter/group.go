package arbiter

type Group uint8

const (
	GroupInvalid      Group = 0
	GroupTasks        Group = 1
	GroupRequestRetry Group = 2
)

func (g Group) String() string {
	switch g {
	case GroupInvalid:
		return "Invalid Group"
	case GroupTasks:
		return "Tasks"
	case GroupRequestRetry:
		return "Request Retry"
	default:
		return "Unknown Group"
	}
}
