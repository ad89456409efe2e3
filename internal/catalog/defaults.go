package catalog

import "researchbuddy/internal/models"

func textModel() models.Capabilities {
	return models.Capabilities{
		models.CapText:            true,
		models.CapFileAnalysis:    true,
		models.CapImageGeneration: false,
		models.CapImageAnalysis:   false,
		models.CapCodeGeneration:  true,
		models.CapRealTimeSearch:  false,
	}
}

func multimodalModel() models.Capabilities {
	caps := textModel()
	caps[models.CapImageGeneration] = true
	caps[models.CapImageAnalysis] = true
	return caps
}

var DefaultModels = []models.AIModel{
	{Name: "OpenAI GPT 4.1 Nano", ID: "gpt-4.1-nano", Provider: "OpenAI", Description: "Small, fast general model", Capabilities: textModel()},
	{Name: "OpenAI GPT 4.1 Mini", ID: "gpt-4.1-mini", Provider: "OpenAI", Description: "Balanced model, strong at code", Capabilities: textModel()},
	{Name: "Google Gemini 2.5 Pro Exp", ID: "gemini-2.5-pro-exp-03-25", Provider: "Google", Description: "Multimodal, reads and draws images", Capabilities: multimodalModel()},
	{Name: "Google Gemini 2.0 Flash", ID: "gemini-2.0-flash-001", Provider: "Google", Description: "Low latency chat", Capabilities: textModel()},
	{Name: "Meta Llama 4 Scout", ID: "llama-4-scout-17b-16e-instruct", Provider: "Meta", Description: "Long context instruct model", Capabilities: textModel()},
	{Name: "Meta Llama 4 Maverick", ID: "llama-4-maverick-17b-128e-instruct", Provider: "Meta", Description: "Document analysis", Capabilities: textModel()},
	{Name: "Meta Llama 3.3 70b", ID: "llama-3.3-70b-versatile", Provider: "Meta", Description: "General purpose", Capabilities: textModel()},
	{Name: "DeepSeek R1 Distilled 70B", ID: "deepseek-r1-distill-llama-70b", Provider: "DeepSeek", Description: "Reasoning model", Capabilities: textModel()},
	{Name: "Qwen QwQ 32B", ID: "qwen-qwq-32b", Provider: "Qwen", Description: "Reasoning model", Capabilities: textModel()},
	{Name: "Mistral Saba 24B", ID: "mistral-saba-24b", Provider: "Mistral", Description: "Multilingual chat", Capabilities: textModel()},
}

// real_time_search is registered but the routing table never consults it.
var DefaultRoutes = map[models.Task]string{
	models.TaskImageGeneration:  "gemini-2.5-pro-exp-03-25",
	models.TaskImageAnalysis:    "gemini-2.5-pro-exp-03-25",
	models.TaskCodeAnalysis:     "gpt-4.1-mini",
	models.TaskDocumentAnalysis: "llama-4-maverick-17b-128e-instruct",
	models.TaskRealTimeSearch:   "gemini-2.0-flash-001",
}
