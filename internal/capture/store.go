// Package capture records raw producer frames to SQLite so a session can be
// inspected with SQL and replayed later. It stores wire payloads only, never
// scene state.
package capture

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/netviz/internal/producer"
	"github.com/banshee-data/netviz/internal/protocol"
)

var ErrNoSuchSession = errors.New("no such capture session")

// Store is a capture database.
type Store struct {
	*sql.DB
	path string
}

// Open opens or creates the database at path and migrates it.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc sqlite serialises writers; one connection avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	s := &Store{DB: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// SessionInfo is one row of the sessions table.
type SessionInfo struct {
	ID        string     `json:"id"`
	Addr      string     `json:"addr"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Frames    int        `json:"frames"`
}

// Frame is one captured payload.
type Frame struct {
	SessionID  string    `json:"session_id"`
	Seq        int64     `json:"seq"`
	ReceivedAt time.Time `json:"received_at"`
	Type       string    `json:"type"`
	Payload    []byte    `json:"-"`
}

// BeginSession records the start of a session.
func (s *Store) BeginSession(id, addr string, at time.Time) error {
	_, err := s.Exec(`INSERT INTO sessions (id, addr, started_at) VALUES (?, ?, ?)`, id, addr, at.UnixNano())
	return err
}

// EndSession stamps the end time of a session.
func (s *Store) EndSession(id string, at time.Time) error {
	res, err := s.Exec(`UPDATE sessions SET ended_at = ? WHERE id = ?`, at.UnixNano(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNoSuchSession, id)
	}
	return nil
}

// InsertFrame appends a frame to a session.
func (s *Store) InsertFrame(f Frame) error {
	_, err := s.Exec(`INSERT INTO frames (session_id, seq, received_at, frame_type, payload) VALUES (?, ?, ?, ?, ?)`,
		f.SessionID, f.Seq, f.ReceivedAt.UnixNano(), f.Type, f.Payload)
	return err
}

// Sessions lists captured sessions, newest first.
func (s *Store) Sessions() ([]SessionInfo, error) {
	rows, err := s.Query(`
		SELECT s.id, s.addr, s.started_at, s.ended_at, COUNT(f.seq)
		FROM sessions s LEFT JOIN frames f ON f.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var started int64
		var ended sql.NullInt64
		if err := rows.Scan(&info.ID, &info.Addr, &started, &ended, &info.Frames); err != nil {
			return nil, err
		}
		info.StartedAt = time.Unix(0, started).UTC()
		if ended.Valid {
			t := time.Unix(0, ended.Int64).UTC()
			info.EndedAt = &t
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Frames returns every frame of a session in sequence order.
func (s *Store) Frames(sessionID string) ([]Frame, error) {
	rows, err := s.Query(`SELECT seq, received_at, frame_type, payload FROM frames WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Frame
	for rows.Next() {
		f := Frame{SessionID: sessionID}
		var received int64
		if err := rows.Scan(&f.Seq, &received, &f.Type, &f.Payload); err != nil {
			return nil, err
		}
		f.ReceivedAt = time.Unix(0, received).UTC()
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close() // release the only connection before querying again
	if len(out) == 0 {
		var exists int
		if err := s.QueryRow(`SELECT COUNT(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
			return nil, err
		}
		if exists == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchSession, sessionID)
		}
	}
	return out, nil
}

// Source replays a session with its recorded timing. Gaps longer than
// maxGap are shortened to maxGap; zero keeps them as recorded.
func (s *Store) Source(sessionID string, maxGap time.Duration) (*producer.Frames, error) {
	frames, err := s.Frames(sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]producer.Frame, len(frames))
	for i, f := range frames {
		out[i].Payload = f.Payload
		if i+1 < len(frames) {
			gap := frames[i+1].ReceivedAt.Sub(f.ReceivedAt)
			if maxGap > 0 && gap > maxGap {
				gap = maxGap
			}
			out[i].Delay = gap
		}
	}
	return producer.NewFrames(out), nil
}

// FrameType peeks at the envelope discriminant; unparseable payloads get "".
func FrameType(payload []byte) string {
	var env protocol.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return ""
	}
	return env.Type
}

// AttachAdminRoutes mounts a tailsql console over the capture database and a
// JSON session list.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.DB, &tailsql.DBOptions{
		Label: "Frame capture",
	})
	debug.Handle("tailsql/", "SQL console over captured frames", tsql.NewMux())

	debug.HandleFunc("captures", "Captured sessions (JSON)", func(w http.ResponseWriter, r *http.Request) {
		sessions, err := s.Sessions()
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to list sessions: %v", err), http.StatusInternalServerError)
			return
		}
		if sessions == nil {
			sessions = []SessionInfo{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sessions)
	})
	return nil
}
