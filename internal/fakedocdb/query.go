package fakedocdb

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lxzan/gws"

	"github.com/driftnote/driftnote/internal/rand"
	"github.com/driftnote/driftnote/pkg/connection"
	"github.com/driftnote/driftnote/pkg/models"
)

var (
	selectByUID = regexp.MustCompile(`^SELECT \* FROM (\w+) WHERE uid = \$(\w+)$`)
	selectByID  = regexp.MustCompile(`^SELECT \* FROM \$(\w+)$`)
	liveByUID   = regexp.MustCompile(`^LIVE SELECT \* FROM (\w+) WHERE uid = \$(\w+)$`)
	createStmt  = regexp.MustCompile(`^CREATE (\w+) CONTENT \$(\w+)$`)
	mergeByUID  = regexp.MustCompile(`^UPDATE \$(\w+) MERGE \$(\w+) WHERE uid = \$(\w+)$`)
	deleteByUID = regexp.MustCompile(`^DELETE \$(\w+) WHERE uid = \$(\w+)$`)
	upsertMerge = regexp.MustCompile(`^UPSERT \$(\w+) MERGE \$(\w+)$`)
	nowDefault  = regexp.MustCompile(`^DEFINE FIELD (?:IF NOT EXISTS )?(\w+) ON (?:TABLE )?(\w+) .*DEFAULT time::now\(\)`)
)

// readonly fields are never changed by MERGE.
var readonly = map[string]bool{"id": true, "created_at": true}

func (h *handler) handleQuery(socket *gws.Conn, req *connection.RPCRequest) {
	sql, ok := paramAt(req.Params, 0).(string)
	if !ok {
		h.sendError(socket, req.ID, -32602, "query requires a string")
		return
	}
	vars, _ := paramAt(req.Params, 1).(map[string]any)

	results := []any{}
	for _, stmt := range splitStatements(sql) {
		start := time.Now()
		res, err := h.server.exec(socket, stmt, vars)
		entry := map[string]any{"time": time.Since(start).String()}
		if err != nil {
			entry["status"] = "ERR"
			entry["result"] = err.Error()
		} else {
			entry["status"] = connection.StatusOK
			entry["result"] = res
		}
		results = append(results, entry)
	}
	h.sendResponse(socket, req.ID, results)
}

func splitStatements(sql string) []string {
	var out []string
	for _, part := range strings.Split(sql, ";") {
		stmt := strings.Join(strings.Fields(part), " ")
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

//nolint:gocyclo
func (s *Server) exec(socket *gws.Conn, stmt string, vars map[string]any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.HasPrefix(stmt, "DEFINE ") {
		s.definitions = append(s.definitions, stmt)
		return nil, nil
	}

	if m := selectByUID.FindStringSubmatch(stmt); m != nil {
		uid := fmt.Sprint(vars[m[2]])
		out := []any{}
		for _, rec := range s.table(m[1]) {
			if rec["uid"] == uid {
				out = append(out, toWire(rec))
			}
		}
		return out, nil
	}

	if m := selectByID.FindStringSubmatch(stmt); m != nil {
		id, err := recordVar(vars, m[1])
		if err != nil {
			return nil, err
		}
		if rec, ok := s.table(id.Table)[id.Key()]; ok {
			return []any{toWire(rec)}, nil
		}
		return []any{}, nil
	}

	if m := liveByUID.FindStringSubmatch(stmt); m != nil {
		id, err := models.NewUUID()
		if err != nil {
			return nil, err
		}
		s.lives[id.String()] = &liveQuery{
			id:     id,
			socket: socket,
			table:  m[1],
			uid:    fmt.Sprint(vars[m[2]]),
		}
		return id, nil
	}

	if m := createStmt.FindStringSubmatch(stmt); m != nil {
		content, ok := vars[m[2]].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("CREATE expects an object in $%s", m[2])
		}
		key := rand.String(20)
		rec := cloneDoc(content)
		rec["id"] = models.NewRecordID(m[1], key)
		for _, field := range s.nowDefaults(m[1]) {
			if rec[field] == nil {
				rec[field] = s.now().UTC()
			}
		}
		s.table(m[1])[key] = rec
		s.broadcast(m[1], connection.CreateAction, rec)
		return []any{toWire(rec)}, nil
	}

	if m := mergeByUID.FindStringSubmatch(stmt); m != nil {
		id, err := recordVar(vars, m[1])
		if err != nil {
			return nil, err
		}
		fields, _ := vars[m[2]].(map[string]any)
		rec, ok := s.table(id.Table)[id.Key()]
		if !ok || rec["uid"] != fmt.Sprint(vars[m[3]]) {
			return []any{}, nil
		}
		merge(rec, fields)
		s.broadcast(id.Table, connection.UpdateAction, rec)
		return []any{toWire(rec)}, nil
	}

	if m := deleteByUID.FindStringSubmatch(stmt); m != nil {
		id, err := recordVar(vars, m[1])
		if err != nil {
			return nil, err
		}
		rec, ok := s.table(id.Table)[id.Key()]
		if ok && rec["uid"] == fmt.Sprint(vars[m[2]]) {
			delete(s.table(id.Table), id.Key())
			s.broadcast(id.Table, connection.DeleteAction, rec)
		}
		return []any{}, nil
	}

	if m := upsertMerge.FindStringSubmatch(stmt); m != nil {
		id, err := recordVar(vars, m[1])
		if err != nil {
			return nil, err
		}
		fields, _ := vars[m[2]].(map[string]any)
		t := s.table(id.Table)
		rec, ok := t[id.Key()]
		action := connection.UpdateAction
		if !ok {
			rec = map[string]any{"id": id}
			t[id.Key()] = rec
			action = connection.CreateAction
		}
		merge(rec, fields)
		s.broadcast(id.Table, action, rec)
		return []any{toWire(rec)}, nil
	}

	return nil, fmt.Errorf("Parse error: unsupported statement %q", stmt)
}

// nowDefaults lists the fields of table defined with DEFAULT time::now().
// Without a definition a CREATE stores only the given content.
func (s *Server) nowDefaults(table string) []string {
	var fields []string
	for _, def := range s.definitions {
		if m := nowDefault.FindStringSubmatch(def); m != nil && m[2] == table {
			fields = append(fields, m[1])
		}
	}
	return fields
}

// broadcast must be called with s.mu held.
func (s *Server) broadcast(table string, action connection.Action, rec map[string]any) {
	for _, lq := range s.lives {
		if lq.table != table {
			continue
		}
		if lq.uid != "" && rec["uid"] != lq.uid {
			continue
		}
		s.notify(lq, action, rec)
	}
}

func recordVar(vars map[string]any, name string) (models.RecordID, error) {
	switch v := vars[name].(type) {
	case models.RecordID:
		return v, nil
	case string:
		return models.ParseRecordID(v)
	}
	return models.RecordID{}, fmt.Errorf("$%s must be a record id, got %T", name, vars[name])
}

func merge(rec, fields map[string]any) {
	for k, v := range fields {
		if readonly[k] {
			continue
		}
		rec[k] = v
	}
}

func cloneDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// toWire copies a record for sending, encoding timestamps the way the
// real server does.
func toWire(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = toWire(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = toWire(item)
		}
		return out
	case time.Time:
		return models.NewDateTime(val)
	default:
		return v
	}
}
