package types

import "encoding/json"

// Multipart field names shared by every tier.
const (
	ImageField = "image_file"
	JSONField  = "json_file"
)

// Content-type hints attached when re-sending uploads downstream.
const (
	ImageContentType = "image/png"
	JSONContentType  = "application/json"
)

// Upload is one uploaded file held fully in memory.
type Upload struct {
	Filename string
	Content  []byte
}

// InferResponse is either {"result": ...} or {"error": ...}, never both.
type InferResponse struct {
	Result string
	Error  string
}

func (r InferResponse) IsError() bool {
	return r.Error != ""
}

func (r InferResponse) MarshalJSON() ([]byte, error) {
	if r.IsError() {
		return json.Marshal(map[string]string{"error": r.Error})
	}
	return json.Marshal(map[string]string{"result": r.Result})
}

func (r *InferResponse) UnmarshalJSON(data []byte) error {
	var raw struct {
		Result string `json:"result"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Result, r.Error = raw.Result, raw.Error
	return nil
}

type ProxyHealth struct {
	Msg string `json:"msg"`
}

type ModelHealth struct {
	Message string `json:"message"`
}

// SubmitResponse carries the user-facing message shown by the UI page.
type SubmitResponse struct {
	Text string `json:"text"`
}
