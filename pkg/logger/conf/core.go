package conf

type Core string

const (
	LogrusCore Core = "logrus"
)

func isValidCore(c Core) bool {
	return c == LogrusCore
}
