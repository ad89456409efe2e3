package conversation

import (
	"strings"

	"researchbuddy/internal/models"
)

// Decision is the outcome of the routing table for one turn.
type Decision struct {
	ModelID string
	Task    models.Task // empty when the selected model is used
	Routed  bool
}

type routeRule struct {
	task    models.Task
	applies func(req models.TurnRequest, selected models.AIModel) bool
}

// Evaluated top to bottom; the first matching rule wins.
var turnRules = []routeRule{
	{
		task: models.TaskImageAnalysis,
		applies: func(req models.TurnRequest, m models.AIModel) bool {
			return req.Image != nil && !m.Has(models.CapImageAnalysis)
		},
	},
	{
		task: models.TaskCodeAnalysis,
		applies: func(req models.TurnRequest, m models.AIModel) bool {
			content := fileContent(req)
			return content != "" &&
				strings.Contains(strings.ToLower(content), "code") &&
				!m.Has(models.CapCodeGeneration)
		},
	},
}

type routeLookup interface {
	RouteFor(task models.Task) (string, error)
}

// routeTurn applies turnRules. A rule whose route is missing falls through to
// the selected model.
func routeTurn(routes routeLookup, req models.TurnRequest, selected models.AIModel) (Decision, error) {
	for _, r := range turnRules {
		if !r.applies(req, selected) {
			continue
		}
		id, err := routes.RouteFor(r.task)
		if err != nil {
			return Decision{ModelID: selected.ID}, err
		}
		return Decision{ModelID: id, Task: r.task, Routed: id != selected.ID}, nil
	}
	return Decision{ModelID: selected.ID}, nil
}

func routeImage(routes routeLookup, selected models.AIModel) (Decision, error) {
	if selected.Has(models.CapImageGeneration) {
		return Decision{ModelID: selected.ID}, nil
	}
	id, err := routes.RouteFor(models.TaskImageGeneration)
	if err != nil {
		return Decision{ModelID: selected.ID}, err
	}
	return Decision{ModelID: id, Task: models.TaskImageGeneration, Routed: id != selected.ID}, nil
}
