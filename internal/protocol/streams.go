package protocol

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Base stream types apps can subscribe to.
const (
	StreamAudioChunk                 = "audio_chunk"
	StreamTranscription              = "transcription"
	StreamTranslation                = "translation"
	StreamButtonPress                = "button_press"
	StreamHeadPosition               = "head_position"
	StreamGlassesBattery             = "glasses_battery_update"
	StreamPhoneBattery               = "phone_battery_update"
	StreamLocation                   = "location_update"
	StreamCalendar                   = "calendar_event"
	StreamPhoneNotification          = "phone_notification"
	StreamPhoneNotificationDismissed = "phone_notification_dismissed"
	StreamVad                        = "vad"
	StreamAll                        = "all"
	StreamWildcard                   = "*"
)

var validStreams = map[string]bool{
	StreamAudioChunk:                 true,
	StreamTranscription:              true,
	StreamTranslation:                true,
	StreamButtonPress:                true,
	StreamHeadPosition:               true,
	StreamGlassesBattery:             true,
	StreamPhoneBattery:               true,
	StreamLocation:                   true,
	StreamCalendar:                   true,
	StreamPhoneNotification:          true,
	StreamPhoneNotificationDismissed: true,
	StreamVad:                        true,
	StreamAll:                        true,
	StreamWildcard:                   true,
}

// Stream is a parsed subscription token.
//
// Canonical text forms:
//
//	button_press
//	transcription:en-US
//	translation:es-ES-to-en-US
//	location_update?rate=high
type Stream struct {
	Type   string
	Lang   string            // transcription language, or translation source
	Target string            // translation target
	Params map[string]string // auxiliary query parameters
}

// ParseStream parses a subscription token into its canonical parts.
// Language tags are case-normalized so "TRANSCRIPTION" typos aside,
// "transcription:EN-us" and "transcription:en-US" are the same stream.
func ParseStream(token string) (Stream, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Stream{}, fmt.Errorf("empty stream token")
	}

	var s Stream
	base := token
	if i := strings.IndexByte(token, '?'); i >= 0 {
		base = token[:i]
		q, err := url.ParseQuery(token[i+1:])
		if err != nil {
			return Stream{}, fmt.Errorf("invalid parameters in stream %q: %w", token, err)
		}
		if len(q) > 0 {
			s.Params = make(map[string]string, len(q))
			for k, vs := range q {
				if len(vs) > 0 {
					s.Params[k] = vs[0]
				} else {
					s.Params[k] = ""
				}
			}
		}
	}

	if i := strings.IndexByte(base, ':'); i >= 0 {
		s.Type = base[:i]
		tag := base[i+1:]
		switch s.Type {
		case StreamTranslation:
			src, tgt, ok := strings.Cut(tag, "-to-")
			if !ok || src == "" || tgt == "" {
				return Stream{}, fmt.Errorf("translation stream %q needs source-to-target languages", token)
			}
			s.Lang = CanonicalLocale(src)
			s.Target = CanonicalLocale(tgt)
		case StreamTranscription:
			if tag == "" {
				return Stream{}, fmt.Errorf("transcription stream %q has an empty language tag", token)
			}
			s.Lang = CanonicalLocale(tag)
		default:
			return Stream{}, fmt.Errorf("stream type %q does not take a language tag", s.Type)
		}
	} else {
		s.Type = base
	}

	if !validStreams[s.Type] {
		return Stream{}, fmt.Errorf("unknown stream type %q", s.Type)
	}
	return s, nil
}

// CanonicalLocale normalizes a locale tag: lowercase language,
// uppercase two-letter region ("EN-us" becomes "en-US").
func CanonicalLocale(tag string) string {
	parts := strings.Split(strings.TrimSpace(tag), "-")
	for i, p := range parts {
		switch {
		case i == 0:
			parts[i] = strings.ToLower(p)
		case len(p) == 2:
			parts[i] = strings.ToUpper(p)
		}
	}
	return strings.Join(parts, "-")
}

// Normalize fills grammar defaults: a bare transcription subscription
// takes the session's default locale.
func (s Stream) Normalize(defaultLocale string) Stream {
	if s.Type == StreamTranscription && s.Lang == "" {
		s.Lang = CanonicalLocale(defaultLocale)
	}
	return s
}

// String renders the canonical token form with sorted parameters.
func (s Stream) String() string {
	var b strings.Builder
	b.WriteString(s.Type)

	switch s.Type {
	case StreamTranscription:
		if s.Lang != "" {
			b.WriteByte(':')
			b.WriteString(s.Lang)
		}
	case StreamTranslation:
		if s.Lang != "" || s.Target != "" {
			b.WriteByte(':')
			b.WriteString(s.Lang)
			b.WriteString("-to-")
			b.WriteString(s.Target)
		}
	}

	if len(s.Params) > 0 {
		keys := make([]string, 0, len(s.Params))
		for k := range s.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('?')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(s.Params[k]))
		}
	}
	return b.String()
}

// WithoutParams strips auxiliary parameters, leaving the part of the
// token that identifies the data itself.
func (s Stream) WithoutParams() Stream {
	s.Params = nil
	return s
}

// IsWildcard reports whether the subscription covers every stream.
func (s Stream) IsWildcard() bool {
	return s.Type == StreamAll || s.Type == StreamWildcard
}

// IsLanguageStream reports whether the stream carries a language tag.
func (s Stream) IsLanguageStream() bool {
	return s.Type == StreamTranscription || s.Type == StreamTranslation
}

// TargetLanguage is the language a subscriber ultimately receives.
func (s Stream) TargetLanguage() string {
	if s.Type == StreamTranslation {
		return s.Target
	}
	return s.Lang
}

// NeedsMicrophone reports whether the stream depends on device audio
// capture.
func (s Stream) NeedsMicrophone() bool {
	switch s.Type {
	case StreamAudioChunk, StreamVad, StreamTranscription, StreamTranslation:
		return true
	}
	return false
}

// Matches reports whether subscription s covers an incoming stream.
// Wildcards cover everything. Language streams match on base type and
// target language, ignoring auxiliary parameters. Plain streams match
// on base type alone.
func (s Stream) Matches(in Stream) bool {
	if s.IsWildcard() {
		return true
	}
	if s.Type != in.Type {
		return false
	}
	if s.IsLanguageStream() {
		return s.TargetLanguage() == in.TargetLanguage()
	}
	return true
}

// SubscriptionEntry is one requested subscription as it appears on the
// wire. Apps may send either a plain token string or a structured
// object with a stream field plus parameter fields:
//
//	"transcription:en-US"
//	{"stream": "location_update", "rate": "high"}
//
// Both normalize to the same canonical token form.
type SubscriptionEntry struct {
	Stream string
	Params map[string]string
}

// UnmarshalJSON accepts both the string and object entry forms.
func (e *SubscriptionEntry) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return fmt.Errorf("empty subscription entry")
	}

	if trimmed[0] == '"' {
		var s string
		if err := Unmarshal(data, &s); err != nil {
			return err
		}
		e.Stream = s
		e.Params = nil
		return nil
	}

	var obj map[string]any
	if err := Unmarshal(data, &obj); err != nil {
		return err
	}
	e.Stream = ""
	e.Params = nil
	for k, v := range obj {
		if k == "stream" {
			e.Stream = fmt.Sprint(v)
			continue
		}
		if e.Params == nil {
			e.Params = make(map[string]string)
		}
		e.Params[k] = fmt.Sprint(v)
	}
	if e.Stream == "" {
		return fmt.Errorf("subscription entry object missing stream field")
	}
	return nil
}

// MarshalJSON renders the canonical token string form.
func (e SubscriptionEntry) MarshalJSON() ([]byte, error) {
	s, err := e.Parse()
	if err != nil {
		// Preserve unparseable entries verbatim; validation happens in
		// the subscription layer, not the codec.
		return Marshal(e.Stream)
	}
	return Marshal(s.String())
}

// Parse resolves the entry into a Stream, merging structured parameter
// fields over any query parameters in the token.
func (e SubscriptionEntry) Parse() (Stream, error) {
	s, err := ParseStream(e.Stream)
	if err != nil {
		return Stream{}, err
	}
	if len(e.Params) > 0 {
		if s.Params == nil {
			s.Params = make(map[string]string, len(e.Params))
		}
		for k, v := range e.Params {
			s.Params[k] = v
		}
	}
	return s, nil
}
