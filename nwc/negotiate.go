package nwc

import (
	"slices"
	"strings"
	"sync"

	"zapsplit.lol/encryption"
	"zapsplit.lol/errorf"
	"zapsplit.lol/event"
	"zapsplit.lol/log"
)

const (
	// Modern is the preferred payload encryption.
	Modern = encryption.Nip44
	// Legacy is the NIP-04 payload encryption.
	Legacy = encryption.Nip04
)

// EncryptionState picks the payload encryption for a connection from the
// schemes available locally and those the wallet advertises. A scheme marked
// unsupported is never picked again.
type EncryptionState struct {
	mx           sync.Mutex
	local        []string
	preferModern bool
	unsupported  map[string]struct{}
	info         *event.T
	infoLoaded   bool
	advertised   []string
	capabilities []string
	selected     string
}

// NewEncryptionState creates the state for the locally available schemes. With
// preferModern set the modern scheme is tried first even when the wallet does
// not advertise anything.
func NewEncryptionState(local []string, preferModern bool) *EncryptionState {
	s := &EncryptionState{
		preferModern: preferModern,
		unsupported:  map[string]struct{}{},
	}
	for _, name := range local {
		if name = encryption.Normalize(name); name != "" &&
			!slices.Contains(s.local, name) {
			s.local = append(s.local, name)
		}
	}
	return s
}

// SetInfo records the wallet info event, nil when none was found. The
// selection is recomputed on the next Negotiate.
func (s *EncryptionState) SetInfo(ev *event.T) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.info, s.infoLoaded, s.selected = ev, true, ""
	s.advertised, s.capabilities = nil, nil
	if ev == nil {
		return
	}
	for _, t := range ev.Tags.GetAll(Tags.Encryption) {
		for _, field := range t[1:] {
			for _, name := range strings.FieldsFunc(field, func(r rune) bool {
				return r == ' ' || r == ',' || r == '\t'
			}) {
				if name = encryption.Normalize(name); !slices.Contains(s.advertised, name) {
					s.advertised = append(s.advertised, name)
				}
			}
		}
	}
	s.capabilities = strings.Fields(ev.Content)
}

// InfoLoaded reports whether SetInfo has been called.
func (s *EncryptionState) InfoLoaded() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.infoLoaded
}

// Info returns the wallet info event, if one was found.
func (s *EncryptionState) Info() *event.T {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.info
}

// Advertised returns the schemes named by the wallet info event.
func (s *EncryptionState) Advertised() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return slices.Clone(s.advertised)
}

// Capabilities returns the methods listed in the wallet info event.
func (s *EncryptionState) Capabilities() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return slices.Clone(s.capabilities)
}

// Selected returns the scheme in use, empty before negotiation.
func (s *EncryptionState) Selected() string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.selected
}

// Select pins a scheme that has been seen working.
func (s *EncryptionState) Select(name string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if _, bad := s.unsupported[name]; !bad && slices.Contains(s.local, name) {
		s.selected = name
	}
}

// MarkUnsupported excludes a scheme for the rest of the connection.
func (s *EncryptionState) MarkUnsupported(name string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	name = encryption.Normalize(name)
	s.unsupported[name] = struct{}{}
	if s.selected == name {
		s.selected = ""
	}
}

// IsUnsupported reports whether a scheme was marked unsupported.
func (s *EncryptionState) IsUnsupported(name string) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	_, bad := s.unsupported[encryption.Normalize(name)]
	return bad
}

// Negotiate returns the selected scheme, choosing one if needed.
func (s *EncryptionState) Negotiate() (scheme string, err error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.selected != "" {
		return s.selected, nil
	}
	var candidates []string
	for _, name := range s.local {
		if _, bad := s.unsupported[name]; !bad {
			candidates = append(candidates, name)
		}
	}
	if len(s.advertised) > 0 {
		var filtered []string
		for _, name := range candidates {
			if slices.Contains(s.advertised, name) {
				filtered = append(filtered, name)
			}
		}
		if len(filtered) == 0 {
			var missing []string
			for _, name := range s.advertised {
				if !slices.Contains(s.local, name) {
					missing = append(missing, name)
				}
			}
			if len(missing) > 0 {
				err = errorf.D("%w: wallet advertises unsupported encryption schemes: %s",
					ErrUnsupportedEncryption, strings.Join(missing, ", "))
				return
			}
		}
		candidates = filtered
	}
	if len(candidates) == 0 {
		err = errorf.D("advertised %v, local %v: %w", s.advertised, s.local,
			ErrNoCompatibleEncryption)
		return
	}
	if s.legacyFirst(candidates) {
		i := slices.Index(candidates, Legacy)
		candidates = append([]string{Legacy}, slices.Delete(candidates, i, i+1)...)
	}
	s.selected = candidates[0]
	log.D.F("selected %s wallet encryption from %v", s.selected, candidates)
	return s.selected, nil
}

// legacyFirst is true when the wallet says nothing about the modern scheme
// and legacy is among several candidates.
func (s *EncryptionState) legacyFirst(candidates []string) bool {
	if s.preferModern || len(candidates) < 2 || !slices.Contains(candidates, Legacy) {
		return false
	}
	if len(s.advertised) == 0 {
		return true
	}
	return slices.Contains(s.advertised, Legacy) && !slices.Contains(s.advertised, Modern)
}

// FallbackAfterTimeout returns the legacy scheme when a modern request timed
// out and the wallet has not ruled legacy out.
func (s *EncryptionState) FallbackAfterTimeout(failed string) (next string, ok bool) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if failed != Modern || !slices.Contains(s.local, Legacy) {
		return
	}
	if _, bad := s.unsupported[Legacy]; bad {
		return
	}
	if len(s.advertised) > 0 && !slices.Contains(s.advertised, Legacy) {
		return
	}
	return Legacy, true
}
