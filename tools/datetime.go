// Package tools ships the built-in tool handlers that need no external
// services.
package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/philipppogosov54-dotcom/mgp-v1/core"
	"github.com/philipppogosov54-dotcom/mgp-v1/tool"
)

// weekdays maps time.Weekday to its Russian name.
var weekdays = [7]string{
	"Воскресенье",
	"Понедельник",
	"Вторник",
	"Среда",
	"Четверг",
	"Пятница",
	"Суббота",
}

// CurrentDateParams is empty: the function takes no arguments.
type CurrentDateParams struct{}

// NewCurrentDateTool returns the get_current_date tool. now is the clock;
// nil means time.Now. The payload carries the date both formatted and split
// into components so the model can do arithmetic without parsing.
func NewCurrentDateTool(now func() time.Time) (*tool.FunctionTool, error) {
	if now == nil {
		now = time.Now
	}

	return tool.NewFunctionToolFromStruct(
		"get_current_date",
		"Возвращает текущую дату и время. Используй перед любым расчётом дат.",
		CurrentDateParams{},
		func(ctx context.Context, tc *core.ToolContext, args map[string]any) (any, error) {
			t := now()
			return map[string]any{
				"date":    t.Format("02.01.2006"),
				"time":    t.Format("15:04"),
				"year":    t.Year(),
				"month":   int(t.Month()),
				"day":     t.Day(),
				"weekday": weekdays[int(t.Weekday())],
				"hint":    fmt.Sprintf("Сегодня %s, %s.", weekdays[int(t.Weekday())], t.Format("02.01.2006")),
			}, nil
		},
	)
}
