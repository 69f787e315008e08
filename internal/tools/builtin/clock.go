package builtin

import (
	"context"
	"strings"
	"time"

	"github.com/soyeahso/shopagent/internal/tools"
)

func currentTime(now func() time.Time) tools.Metadata {
	return tools.Metadata{
		Name:        ToolCurrentTime,
		Description: "Get the current date and time, optionally in an IANA time zone such as Europe/Berlin.",
		Category:    "utility",
		Schema: tools.Schema{
			{Name: "timezone", Kind: tools.KindString, Description: "IANA time zone name; defaults to UTC"},
		},
		Execute: func(_ context.Context, args tools.Args) (tools.Result, error) {
			name := strings.TrimSpace(args.String("timezone", ""))
			if name == "" {
				name = "UTC"
			}
			loc, err := time.LoadLocation(name)
			if err != nil {
				return tools.Fail("unknown time zone %q", name), nil
			}

			t := now().In(loc)
			return tools.OK(map[string]any{
				"timezone": loc.String(),
				"iso":      t.Format(time.RFC3339),
				"unix":     t.Unix(),
				"human":    t.Format("Monday, January 2, 2006 15:04 MST"),
				"offset":   t.Format("-07:00"),
			}), nil
		},
	}
}
