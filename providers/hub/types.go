package hub

// Wire types for the hosted inference API.

type inferenceRequest struct {
	Inputs     string              `json:"inputs"`
	Parameters inferenceParameters `json:"parameters"`
}

type inferenceParameters struct {
	Temperature    float32 `json:"temperature,omitempty"`
	MaxLength      int     `json:"max_length,omitempty"`
	TopP           float32 `json:"top_p,omitempty"`
	DoSample       bool    `json:"do_sample"`
	ReturnFullText bool    `json:"return_full_text"`
}

type generatedText struct {
	GeneratedText string `json:"generated_text"`
}

type embedRequest struct {
	Inputs string `json:"inputs"`
}

type apiErrorBody struct {
	Error string `json:"error"`
}
