package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/viewmodel"
	"github.com/GeniusPenguin9/Anemo-Slime-UI/pkg/wire"
)

// exampleView is a text box showing a counter and a button adding to it.
func exampleView() viewmodel.View {
	return viewmodel.View{
		Name: "example",
		New: func() []*viewmodel.Widget {
			var (
				mu    sync.Mutex
				count int
			)
			return []*viewmodel.Widget{
				{
					ID: "text",
					Render: func() wire.Fields {
						mu.Lock()
						defer mu.Unlock()
						return wire.Fields{"content": fmt.Sprintf("Hello World %d", count)}
					},
				},
				{
					ID: "button",
					Render: func() wire.Fields {
						return wire.Fields{"label": "Add value", "width": 50, "height": 50}
					},
					Actions: map[string]viewmodel.ActionFunc{
						"click": func(_ context.Context, data json.RawMessage) error {
							in, err := wire.Decode[struct {
								By int `json:"by"`
							}](data)
							if err != nil {
								return err
							}
							if in.By == 0 {
								in.By = 1
							}
							mu.Lock()
							count += in.By
							mu.Unlock()
							return nil
						},
					},
				},
			}
		},
	}
}
