package logsvc

import (
	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
	log "github.com/sirupsen/logrus"

	"github.com/trezcool/atelier/core"
	"github.com/trezcool/atelier/core/user"
)

// RollbarLogger reports to Rollbar and writes structured logs with logrus.
type RollbarLogger struct {
	out *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(out *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(conf.RollbarToken != "")
	return &RollbarLogger{out: out}
}

// NewLogrus returns the output logger: text in debug, JSON otherwise.
func NewLogrus(conf *core.Config) *log.Logger {
	out := log.New()
	if conf.Debug {
		out.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
		out.SetLevel(log.DebugLevel)
	} else {
		out.SetFormatter(&log.JSONFormatter{})
		out.SetLevel(log.InfoLevel)
	}
	return out
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// expected fmt: msg | error, map[string]interface{}, user.User
func (l RollbarLogger) prepare(msg string, args []interface{}) ([]interface{}, *log.Entry) {
	var usrSet bool
	entry := log.NewEntry(l.out)
	newArgs := make([]interface{}, 0, len(args)+1)
	newArgs = append(newArgs, msg)
	for _, arg := range args {
		switch a := arg.(type) {
		case user.User:
			// set logged in User
			if !usrSet { // only set one User
				rollbar.SetPerson(a.ID, a.Username, a.Email)
				entry = entry.WithField("user_id", a.ID)
				usrSet = true
			}
			continue
		case error:
			entry = entry.WithError(a)
		case map[string]interface{}:
			entry = entry.WithFields(a)
		}
		newArgs = append(newArgs, arg)
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	return newArgs, entry
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rArgs, entry := l.prepare(msg, args)
	rollbar.Debug(rArgs...)
	entry.Debug(msg)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rArgs, entry := l.prepare(msg, args)
	rollbar.Info(rArgs...)
	entry.Info(msg)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rArgs, entry := l.prepare(msg, args)
	rollbar.Warning(rArgs...)
	entry.Warn(msg)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rArgs, entry := l.prepare(msg, args)
	rollbar.Error(rArgs...)
	entry.Error(msg)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rArgs, entry := l.prepare(msg, args)
	rollbar.Critical(rArgs...)
	rollbar.Wait()
	entry.Fatal(msg)
}
