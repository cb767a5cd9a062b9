// Package storetest provides an in-memory store.DataStore for tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eldtechnologies/roomhub/internal/ids"
	"github.com/eldtechnologies/roomhub/internal/models"
	"github.com/eldtechnologies/roomhub/internal/store"
)

var _ store.DataStore = (*Memory)(nil)

type memberKey struct{ room, user string }

// Memory is a DataStore kept in maps. Individual operations can be made to
// fail with FailOn.
type Memory struct {
	mu       sync.Mutex
	users    map[string]models.User
	rooms    map[string]models.Room
	messages []models.Message
	members  map[memberKey]models.RoomMember
	failures map[string]error
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]models.User),
		rooms:    make(map[string]models.Room),
		members:  make(map[memberKey]models.RoomMember),
		failures: make(map[string]error),
	}
}

// FailOn makes the named method (e.g. "GetRoom") return err. A nil err
// clears the failure.
func (m *Memory) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

func (m *Memory) fail(method string) error {
	return m.failures[method]
}

// AddUser inserts a user with a fixed id.
func (m *Memory) AddUser(id, username string) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := models.User{ID: id, Username: username, CreatedAt: time.Now().UTC()}
	m.users[id] = u
	return u
}

// AddRoom inserts a room with a fixed id.
func (m *Memory) AddRoom(id, name, creatorID string) models.Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := models.Room{ID: id, Name: name, CreatorID: creatorID, CreatedAt: time.Now().UTC()}
	m.rooms[id] = r
	return r
}

// Members returns every membership row, for assertions.
func (m *Memory) Members() []models.RoomMember {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.RoomMember, 0, len(m.members))
	for _, mem := range m.members {
		out = append(out, mem)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RoomID != out[j].RoomID {
			return out[i].RoomID < out[j].RoomID
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Messages returns every stored message, for assertions.
func (m *Memory) Messages() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Message(nil), m.messages...)
}

func (m *Memory) Close() {}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fail("Ping")
}

func (m *Memory) CreateUser(ctx context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateUser"); err != nil {
		return nil, err
	}
	u := models.User{ID: ids.NewID(), Username: username, CreatedAt: time.Now().UTC()}
	m.users[u.ID] = u
	return &u, nil
}

func (m *Memory) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetUser"); err != nil {
		return nil, err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) CreateRoom(ctx context.Context, name, creatorID string) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateRoom"); err != nil {
		return nil, err
	}
	r := models.Room{ID: ids.NewID(), Name: name, CreatorID: creatorID, CreatedAt: time.Now().UTC()}
	m.rooms[r.ID] = r
	return &r, nil
}

func (m *Memory) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetRoom"); err != nil {
		return nil, err
	}
	r, ok := m.rooms[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) DeleteRoomByCreator(ctx context.Context, roomID, creatorID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteRoomByCreator"); err != nil {
		return false, err
	}
	r, ok := m.rooms[roomID]
	if !ok || r.CreatorID != creatorID {
		return false, nil
	}
	delete(m.rooms, roomID)
	for k := range m.members {
		if k.room == roomID {
			delete(m.members, k)
		}
	}
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.RoomID != roomID {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	return true, nil
}

func (m *Memory) CreateMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateMessage"); err != nil {
		return err
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.ID == "" {
		msg.ID = ids.NewMessageID(msg.CreatedAt)
	}
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *Memory) ListRoomMessages(ctx context.Context, roomID string, limit int, before string) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ListRoomMessages"); err != nil {
		return nil, err
	}
	var out []models.Message
	for _, msg := range m.messages {
		if msg.RoomID == roomID && (before == "" || msg.ID < before) {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *Memory) DeleteUserRoomMessages(ctx context.Context, roomID, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteUserRoomMessages"); err != nil {
		return 0, err
	}
	var n int64
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.RoomID == roomID && msg.UserID == userID {
			n++
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
	return n, nil
}

func (m *Memory) GetMember(ctx context.Context, roomID, userID string) (*models.RoomMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetMember"); err != nil {
		return nil, err
	}
	mem, ok := m.members[memberKey{roomID, userID}]
	if !ok {
		return nil, nil
	}
	return &mem, nil
}

func (m *Memory) CreateMember(ctx context.Context, roomID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateMember"); err != nil {
		return false, err
	}
	k := memberKey{roomID, userID}
	if _, ok := m.members[k]; ok {
		return false, nil
	}
	m.members[k] = models.RoomMember{RoomID: roomID, UserID: userID, Online: true, JoinedAt: time.Now().UTC()}
	return true, nil
}

func (m *Memory) SetMemberOnline(ctx context.Context, roomID, userID string, online bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("SetMemberOnline"); err != nil {
		return false, err
	}
	k := memberKey{roomID, userID}
	mem, ok := m.members[k]
	if !ok {
		return false, nil
	}
	mem.Online = online
	m.members[k] = mem
	return true, nil
}

func (m *Memory) DeleteMember(ctx context.Context, roomID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteMember"); err != nil {
		return false, err
	}
	k := memberKey{roomID, userID}
	_, ok := m.members[k]
	delete(m.members, k)
	return ok, nil
}

func (m *Memory) SetUserOffline(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("SetUserOffline"); err != nil {
		return nil, err
	}
	var rooms []string
	for _, mem := range m.userMembersLocked(userID) {
		mem.Online = false
		m.members[memberKey{mem.RoomID, userID}] = mem
		rooms = append(rooms, mem.RoomID)
	}
	return rooms, nil
}

func (m *Memory) CountMembers(ctx context.Context, roomID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CountMembers"); err != nil {
		return 0, err
	}
	n := 0
	for k := range m.members {
		if k.room == roomID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CountOnline(ctx context.Context, roomID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CountOnline"); err != nil {
		return 0, err
	}
	n := 0
	for k, mem := range m.members {
		if k.room == roomID && mem.Online {
			n++
		}
	}
	return n, nil
}

func (m *Memory) userMembersLocked(userID string) []models.RoomMember {
	var out []models.RoomMember
	for k, mem := range m.members {
		if k.user == userID {
			out = append(out, mem)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}
