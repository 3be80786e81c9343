package transcription

import "meeting-assistant-go/internal/audio"

type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var languages = []Language{
	{"hi", "Hindi"},
	{"en", "English"},
	{"bn", "Bengali"},
	{"te", "Telugu"},
	{"mr", "Marathi"},
	{"ta", "Tamil"},
	{"gu", "Gujarati"},
	{"kn", "Kannada"},
	{"ml", "Malayalam"},
	{"pa", "Punjabi"},
	{"or", "Odia"},
	{"as", "Assamese"},
	{"ur", "Urdu"},
	{"ne", "Nepali"},
	{"sa", "Sanskrit"},
	{"sd", "Sindhi"},
	{"ks", "Kashmiri"},
	{"mai", "Maithili"},
	{"mni", "Manipuri"},
	{"brx", "Bodo"},
	{"gom", "Konkani"},
	{"si", "Sinhala"},
}

// Languages returns a copy of the language catalog.
func Languages() []Language {
	out := make([]Language, len(languages))
	copy(out, languages)
	return out
}

func Formats() []string {
	out := make([]string, len(audio.Supported))
	for i, f := range audio.Supported {
		out[i] = string(f)
	}
	return out
}
