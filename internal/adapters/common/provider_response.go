package common

// DefaultRawBodyLimit caps how many characters of a provider answer are kept.
const DefaultRawBodyLimit = 1024

// ProviderResponse is the adapter-neutral view of a provider answer.
type ProviderResponse struct {
	Status  string            `json:"status"`
	Code    *int              `json:"code,omitempty"`
	Message string            `json:"message,omitempty"`
	Raw     string            `json:"raw,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// Accepted reports whether the provider took the message.
func (r *ProviderResponse) Accepted() bool {
	return r != nil && r.Status == "ok"
}

// TruncateRaw keeps at most limit runes of raw.
func TruncateRaw(raw string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(raw)
	if len(runes) <= limit {
		return raw
	}
	return string(runes[:limit])
}
