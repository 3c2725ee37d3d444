package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"epibot/internal/delivery"
	"epibot/internal/report"
	"epibot/internal/storage"
	kit "epibot/internal/transport"
	logx "epibot/pkg/logx"
	"epibot/pkg/tgui"
)

type sessionState int

const (
	stateCadence sessionState = iota
	stateFormat
	stateSource
	stateScope
)

const (
	btnDone   = "done"
	btnCancel = "cancel"
	btnBack   = "back"
	btnNation = "national"
)

// session is one chat's in-progress settings conversation. The draft is
// committed as a whole on "done" and discarded on "cancel", so a half-edited
// subscription never reaches storage.
type session struct {
	state    sessionState
	draft    storage.Subscription
	source   string // source being scoped while in stateScope
	lastSeen time.Time
}

type sessionManager struct {
	mu       sync.Mutex
	sessions map[int64]*session

	store   storage.Store
	sources []delivery.Source
	adapter kit.Adapter
	log     logx.Logger
	ttl     time.Duration
	now     func() time.Time
}

func newSessionManager(store storage.Store, sources []delivery.Source, adapter kit.Adapter, log logx.Logger) *sessionManager {
	return &sessionManager{
		sessions: map[int64]*session{},
		store:    store,
		sources:  sources,
		adapter:  adapter,
		log:      log,
		ttl:      10 * time.Minute,
		now:      time.Now,
	}
}

func (m *sessionManager) Active(chatID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[chatID] != nil
}

// Start opens a session seeded from the stored subscription, or from
// defaults for a new chat.
func (m *sessionManager) Start(ctx context.Context, chatID int64) {
	draft := storage.Subscription{
		ChatID:  chatID,
		Cadence: string(report.CadenceDay),
		Format:  string(report.FormatText),
		Sources: map[string]storage.SourceSelection{},
	}
	if cur, err := m.store.GetSubscription(ctx, chatID); err == nil {
		draft = cur
		if draft.Sources == nil {
			draft.Sources = map[string]storage.SourceSelection{}
		}
	}

	m.mu.Lock()
	m.sessions[chatID] = &session{state: stateCadence, draft: draft, lastSeen: m.now()}
	m.mu.Unlock()

	m.send(ctx, chatID,
		tgui.JoinH("\n",
			tgui.B("Report settings"),
			tgui.Esc("How often do you want reports?")).String(),
		cadenceKeyboard())
}

// Cancel ends the chat's session, if any, without committing.
func (m *sessionManager) Cancel(ctx context.Context, chatID int64) bool {
	m.mu.Lock()
	_, ok := m.sessions[chatID]
	delete(m.sessions, chatID)
	m.mu.Unlock()
	if ok {
		m.send(ctx, chatID, "Settings discarded.", removeKeyboard())
	}
	return ok
}

// HandleText advances the chat's session with a keyboard press or typed
// text. Messages for chats without a session are ignored.
func (m *sessionManager) HandleText(ctx context.Context, msg *kit.Message) {
	m.mu.Lock()
	s := m.sessions[msg.ChatID]
	if s != nil && m.now().Sub(s.lastSeen) > m.ttl {
		delete(m.sessions, msg.ChatID)
		s = nil
	}
	if s != nil {
		s.lastSeen = m.now()
	}
	m.mu.Unlock()
	if s == nil {
		return
	}

	input := strings.ToLower(strings.TrimSpace(msg.Text))
	if input == btnCancel || input == "/cancel" {
		m.Cancel(ctx, msg.ChatID)
		return
	}

	switch s.state {
	case stateCadence:
		m.onCadence(ctx, msg.ChatID, s, input)
	case stateFormat:
		m.onFormat(ctx, msg.ChatID, s, input)
	case stateSource:
		m.onSource(ctx, msg.ChatID, s, input)
	case stateScope:
		m.onScope(ctx, msg.ChatID, s, msg.Text)
	}
}

func (m *sessionManager) onCadence(ctx context.Context, chatID int64, s *session, input string) {
	c, err := report.ParseCadence(input)
	if err != nil {
		m.send(ctx, chatID, "Pick one of the cadences below.", cadenceKeyboard())
		return
	}
	s.draft.Cadence = string(c)
	s.state = stateFormat
	m.send(ctx, chatID, "Message or spreadsheet?", formatKeyboard())
}

func (m *sessionManager) onFormat(ctx context.Context, chatID int64, s *session, input string) {
	f, err := report.ParseFormat(input)
	if err != nil {
		m.send(ctx, chatID, "Pick one of the formats below.", formatKeyboard())
		return
	}
	s.draft.Format = string(f)
	s.state = stateSource
	m.send(ctx, chatID, m.sourcePrompt(s), m.sourceKeyboard())
}

func (m *sessionManager) onSource(ctx context.Context, chatID int64, s *session, input string) {
	if input == btnDone {
		m.commit(ctx, chatID, s)
		return
	}
	for _, src := range m.sources {
		if input == src.Name() {
			s.source = src.Name()
			s.state = stateScope
			m.send(ctx, chatID, m.scopePrompt(ctx, s), m.scopeKeyboard(ctx, src))
			return
		}
	}
	m.send(ctx, chatID, m.sourcePrompt(s), m.sourceKeyboard())
}

func (m *sessionManager) onScope(ctx context.Context, chatID int64, s *session, raw string) {
	input := strings.TrimSpace(raw)
	low := strings.ToLower(input)

	if low == btnBack {
		s.source = ""
		s.state = stateSource
		m.send(ctx, chatID, m.sourcePrompt(s), m.sourceKeyboard())
		return
	}

	sel := s.draft.Sources[s.source]
	if low == btnNation {
		sel.National = !sel.National
		s.draft.Sources[s.source] = sel
		m.send(ctx, chatID, m.scopePrompt(ctx, s), m.scopeKeyboard(ctx, m.sourceByName(s.source)))
		return
	}

	// Area names come from the dataset itself; toggle on exact match.
	src := m.sourceByName(s.source)
	if src != nil {
		if areas, err := m.areasOf(ctx, src); err == nil {
			for _, a := range areas {
				if strings.EqualFold(a, input) {
					sel.Areas = toggleArea(sel.Areas, a)
					s.draft.Sources[s.source] = sel
					m.send(ctx, chatID, m.scopePrompt(ctx, s), m.scopeKeyboard(ctx, src))
					return
				}
			}
		}
	}
	m.send(ctx, chatID, "That area is not in this dataset. Pick one from the keyboard.", m.scopeKeyboard(ctx, src))
}

func (m *sessionManager) commit(ctx context.Context, chatID int64, s *session) {
	// Drop sources the user emptied out.
	for name, sel := range s.draft.Sources {
		if sel.Empty() {
			delete(s.draft.Sources, name)
		}
	}

	if len(s.draft.Sources) == 0 {
		m.send(ctx, chatID, "Nothing selected; pick a source and at least one scope, or cancel.", m.sourceKeyboard())
		s.state = stateSource
		return
	}

	s.draft.UpdatedAt = m.now()
	if err := m.store.ReplaceSubscription(ctx, s.draft); err != nil {
		m.log.Error("saving subscription failed", logx.Int64("chat_id", chatID), logx.Err(err))
		m.send(ctx, chatID, "Saving failed, settings unchanged. Try again later.", removeKeyboard())
	} else {
		m.audit(ctx, chatID, "subscribe")
		m.send(ctx, chatID, tgui.JoinH("\n",
			tgui.B("Saved."),
			tgui.Esc(describeSubscription(s.draft, m.sources))).String(), removeKeyboard())
	}

	m.mu.Lock()
	delete(m.sessions, chatID)
	m.mu.Unlock()
}

func (m *sessionManager) audit(ctx context.Context, chatID int64, action string) {
	err := m.store.AppendAudit(ctx, storage.AuditEntry{
		At: m.now(), ChatID: chatID, Action: action, OK: true,
	})
	if err != nil {
		m.log.Warn("audit append failed", logx.Err(err))
	}
}

func (m *sessionManager) sourceByName(name string) delivery.Source {
	for _, src := range m.sources {
		if src.Name() == name {
			return src
		}
	}
	return nil
}

func (m *sessionManager) areasOf(ctx context.Context, src delivery.Source) ([]string, error) {
	lister, ok := src.(interface {
		Areas(ctx context.Context) ([]string, error)
	})
	if !ok {
		return nil, nil
	}
	return lister.Areas(ctx)
}

func (m *sessionManager) sourcePrompt(s *session) string {
	return tgui.JoinH("\n",
		tgui.Esc("Pick a data source to configure, or finish with \"done\"."),
		tgui.I(describeSubscription(s.draft, m.sources))).String()
}

func (m *sessionManager) scopePrompt(ctx context.Context, s *session) string {
	sel := s.draft.Sources[s.source]
	parts := []string{fmt.Sprintf("Configuring %s.", s.source)}
	if sel.National {
		parts = append(parts, "Nationwide series: on.")
	}
	if len(sel.Areas) > 0 {
		parts = append(parts, "Areas: "+strings.Join(sel.Areas, ", ")+".")
	}
	parts = append(parts, "Tap to toggle, \"back\" when finished.")
	return tgui.Esc(strings.Join(parts, " ")).String()
}

func (m *sessionManager) sourceKeyboard() *kit.SendOptions {
	var rows [][]string
	for _, src := range m.sources {
		rows = append(rows, []string{src.Name()})
	}
	rows = append(rows, []string{btnDone, btnCancel})
	return &kit.SendOptions{ReplyKeyboard: rows}
}

func (m *sessionManager) scopeKeyboard(ctx context.Context, src delivery.Source) *kit.SendOptions {
	rows := [][]string{{btnNation}}
	if src != nil {
		if areas, err := m.areasOf(ctx, src); err == nil {
			rows = append(rows, pairRows(areas)...)
		} else if err != nil {
			m.log.Warn("listing areas failed", logx.String("source", src.Name()), logx.Err(err))
		}
	}
	rows = append(rows, []string{btnBack, btnCancel})
	return &kit.SendOptions{ReplyKeyboard: rows}
}

func cadenceKeyboard() *kit.SendOptions {
	var row []string
	for _, c := range report.Cadences() {
		row = append(row, string(c))
	}
	return &kit.SendOptions{ReplyKeyboard: [][]string{row, {btnCancel}}}
}

func formatKeyboard() *kit.SendOptions {
	return &kit.SendOptions{ReplyKeyboard: [][]string{
		{string(report.FormatText), string(report.FormatSheet)},
		{btnCancel},
	}}
}

func removeKeyboard() *kit.SendOptions {
	return &kit.SendOptions{RemoveKeyboard: true}
}

func pairRows(items []string) [][]string {
	var rows [][]string
	for i := 0; i < len(items); i += 2 {
		if i+1 < len(items) {
			rows = append(rows, []string{items[i], items[i+1]})
		} else {
			rows = append(rows, []string{items[i]})
		}
	}
	return rows
}

func toggleArea(areas []string, area string) []string {
	for i, a := range areas {
		if a == area {
			return append(areas[:i], areas[i+1:]...)
		}
	}
	return append(areas, area)
}

// describeSubscription renders one line per configured source, plus the
// cadence and format. Used in prompts and /status.
func describeSubscription(sub storage.Subscription, sources []delivery.Source) string {
	if len(sub.Sources) == 0 {
		return "No sources selected yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Every %s as %s:", sub.Cadence, sub.Format)
	for _, src := range sources {
		sel, ok := sub.Sources[src.Name()]
		if !ok || sel.Empty() {
			continue
		}
		var scopes []string
		if sel.National {
			scopes = append(scopes, "national")
		}
		scopes = append(scopes, sel.Areas...)
		fmt.Fprintf(&b, "\n· %s: %s", src.Name(), strings.Join(scopes, ", "))
	}
	return b.String()
}

func (m *sessionManager) send(ctx context.Context, chatID int64, html string, opt *kit.SendOptions) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	opt.ParseMode = "HTML"
	opt.DisablePreview = true
	if _, err := m.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, html, opt); err != nil {
		m.log.Warn("session send failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}
