package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nguyentranbao-ct/omni-inbox/internal/models"
	"github.com/nguyentranbao-ct/omni-inbox/internal/repo/crmapi"
	"github.com/nguyentranbao-ct/omni-inbox/internal/repo/gateway"
)

type fakeCRM struct {
	mu        sync.Mutex
	created   []crmapi.CreateMessageRequest
	failOn    map[int]error // by create call index
	listErr   error
	convErr   error
	pages     map[string][]models.Message
	conv      map[string]models.Conversation
	hidden    []string
	deleted   []string
	deleteErr error
	listCalls []string
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		failOn: map[int]error{},
		pages:  map[string][]models.Message{},
		conv:   map[string]models.Conversation{},
	}
}

func (f *fakeCRM) ListMessages(_ context.Context, id string, _ int) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, id)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.pages[id], nil
}

func (f *fakeCRM) CreateMessage(_ context.Context, req crmapi.CreateMessageRequest) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.created)
	f.created = append(f.created, req)
	if err := f.failOn[idx]; err != nil {
		return nil, err
	}
	sent := time.Date(2024, 5, 1, 10, 0, idx, 0, time.UTC)
	return &models.Message{
		ID:             fmt.Sprintf("srv-%d", idx+1),
		ConversationID: req.ConversationID,
		MessageType:    req.MessageType,
		Content:        req.Content,
		Metadata:       req.Metadata,
		IsInternalNote: req.IsInternalNote,
		AuthorName:     req.AuthorName,
		CorrelationID:  req.CorrelationID,
		SentAt:         &sent,
	}, nil
}

func (f *fakeCRM) HideMessage(_ context.Context, id string) error {
	f.hidden = append(f.hidden, id)
	return nil
}

func (f *fakeCRM) DeleteSentMessage(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

func (f *fakeCRM) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	if f.convErr != nil {
		return nil, f.convErr
	}
	c, ok := f.conv[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &c, nil
}

func (f *fakeCRM) ListQuickReplies(context.Context) ([]models.QuickReply, error) {
	return nil, nil
}

type fakeGateway struct {
	uploads   []gateway.UploadRequest
	uploadErr error
	deleted   []string
	deleteErr error
	reactions []string
	links     []string
}

func (g *fakeGateway) Upload(_ context.Context, req gateway.UploadRequest) (*gateway.RemoteRef, error) {
	g.uploads = append(g.uploads, req)
	if g.uploadErr != nil {
		return nil, g.uploadErr
	}
	return &gateway.RemoteRef{URL: "https://cdn/" + req.FileName, MessageID: "3EB0", ZaapID: "z1", MimeType: "image/png", Size: int64(len(req.File))}, nil
}

func (g *fakeGateway) SendLink(_ context.Context, phone, link, _ string) (*gateway.Ack, error) {
	g.links = append(g.links, phone+" "+link)
	return &gateway.Ack{MessageID: "L1"}, nil
}

func (g *fakeGateway) SendReaction(_ context.Context, phone, target, emoji string) (*gateway.Ack, error) {
	g.reactions = append(g.reactions, phone+" "+target+" "+emoji)
	return &gateway.Ack{MessageID: "R1"}, nil
}

func (g *fakeGateway) RemoveReaction(_ context.Context, phone, target string) (*gateway.Ack, error) {
	g.reactions = append(g.reactions, phone+" "+target+" -")
	return &gateway.Ack{MessageID: "R2"}, nil
}

func (g *fakeGateway) DeleteMessage(_ context.Context, id string) error {
	g.deleted = append(g.deleted, id)
	return g.deleteErr
}

func (g *fakeGateway) FetchAudio(context.Context, string) (*gateway.PlayableRef, error) {
	return nil, models.ErrNotFound
}

type fakeRooms struct {
	mu     sync.Mutex
	events []string
}

func (r *fakeRooms) JoinConversation(id string)  { r.add("join " + id) }
func (r *fakeRooms) LeaveConversation(id string) { r.add("leave " + id) }

func (r *fakeRooms) SendTyping(id string, typing bool) {
	if typing {
		r.add("start " + id)
	} else {
		r.add("stop " + id)
	}
}

func (r *fakeRooms) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *fakeRooms) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type memSnapshots struct {
	mu    sync.Mutex
	snaps map[string]models.ConversationSnapshot
}

func (m *memSnapshots) Save(_ context.Context, s models.ConversationSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snaps == nil {
		m.snaps = map[string]models.ConversationSnapshot{}
	}
	m.snaps[s.Conversation.ID] = s
	return nil
}

func (m *memSnapshots) Get(_ context.Context, id string) (*models.ConversationSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &s, nil
}
