package opts

import (
	"io"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
)

// 📢 UserLogger gives the final word of a command to the user
type UserLogger struct {
	log     zerolog.Logger
	success *pterm.PrefixPrinter
	failure *pterm.PrefixPrinter
}

// 🎯 NewUserLogger creates a user logger printing to w
func NewUserLogger(w io.Writer, logger zerolog.Logger) *UserLogger {
	return &UserLogger{
		log:     logger,
		success: pterm.Success.WithPrefix(pterm.Prefix{Text: "✅"}).WithWriter(w),
		failure: pterm.Error.WithPrefix(pterm.Prefix{Text: "❌"}).WithWriter(w),
	}
}

// LogResult reports how a command ended
func (u *UserLogger) LogResult(description string, err error) {
	if err == nil {
		u.success.Println(description)
		return
	}
	u.failure.Println(description)
	u.failure.Println(err)
	u.log.Debug().Err(err).Msg(description)
}
