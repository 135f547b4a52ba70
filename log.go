package unlocker

import (
	"github.com/sirupsen/logrus"
)

var Log = logrus.New()

func init() {
	Log.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
		DisableQuote:     true,
	})
}

// <0 warnings only, 0 info, 1 debug, 2+ trace
func SetVerbosity(v int) {
	switch {
	case v < 0:
		Log.SetLevel(logrus.WarnLevel)
	case v == 0:
		Log.SetLevel(logrus.InfoLevel)
	case v == 1:
		Log.SetLevel(logrus.DebugLevel)
	default:
		Log.SetLevel(logrus.TraceLevel)
	}
}

func pidLog(pid uint32) *logrus.Entry {
	return Log.WithField("pid", pid)
}
