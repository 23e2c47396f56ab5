// Command budgetserver is a small HTTP demo built on top of the nested
// tree: one table of expenses, addressed by a random UUID per row, with
// fields for the row's own UUID and its amount in cents.
package main

import (
	"encoding/binary"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"nestdb/internal/key128"
	"nestdb/internal/xlog"
	"nestdb/pkg/nested"
	"nestdb/pkg/storage"
)

const tableExpenses = uint64(0)

const (
	fieldUUID   = uint64(0)
	fieldAmount = uint64(1)
)

// expense is the JSON shape returned to clients.
type expense struct {
	UUID   uuid.UUID `json:"uuid"`
	Amount int64     `json:"amount"`
}

type createExpenseRequest struct {
	Amount int64 `json:"amount"`
}

// engine wraps the single-writer, single-reader storage engine with a
// mutex: the core package has no internal locking, so any embedder that
// serves concurrent requests has to supply its own, here at the
// coarsest possible grain.
type engine struct {
	mu sync.Mutex
	db *storage.Database
}

func (e *engine) withRoot(fn func(root nested.TreeEntry) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	root, err := nested.Root(e.db)
	if err != nil {
		return err
	}
	return fn(root)
}

func readExpense(root nested.TreeEntry, id uuid.UUID) (*expense, error) {
	key := key128.FromBytes(id[:])
	row, err := root.Get(key128.FromUint64(tableExpenses))
	if err != nil {
		return nil, err
	}
	row, err = row.Get(key)
	if err != nil {
		return nil, err
	}
	amountBuf, ok, err := row.Value(key128.FromUint64(fieldAmount))
	if err != nil {
		return nil, err
	}
	if !ok || len(amountBuf) != 8 {
		return nil, nil
	}
	amount := int64(binary.BigEndian.Uint64(amountBuf))
	return &expense{UUID: id, Amount: amount}, nil
}

func insertExpense(root nested.TreeEntry, req createExpenseRequest) (*expense, error) {
	id := uuid.New()
	key := key128.FromBytes(id[:])

	row, err := root.Get(key128.FromUint64(tableExpenses))
	if err != nil {
		return nil, err
	}
	row, err = row.Get(key)
	if err != nil {
		return nil, err
	}
	idBytes := key.Bytes()
	if err := row.SetValue(key128.FromUint64(fieldUUID), idBytes[:]); err != nil {
		return nil, err
	}
	var amountBuf [8]byte
	binary.BigEndian.PutUint64(amountBuf[:], uint64(req.Amount))
	if err := row.SetValue(key128.FromUint64(fieldAmount), amountBuf[:]); err != nil {
		return nil, err
	}
	return &expense{UUID: id, Amount: req.Amount}, nil
}

func listExpenses(root nested.TreeEntry, amountGTE *int64) ([]expense, error) {
	table, err := root.Get(key128.FromUint64(tableExpenses))
	if err != nil {
		return nil, err
	}
	keys, err := table.Keys()
	if err != nil {
		return nil, err
	}
	out := make([]expense, 0, len(keys))
	for _, k := range keys {
		kb := k.Bytes()
		id, err := uuid.FromBytes(kb[:])
		if err != nil {
			return nil, errors.Wrap(err, "decode row key as uuid")
		}
		row, err := table.Get(k)
		if err != nil {
			return nil, err
		}
		amountBuf, ok, err := row.Value(key128.FromUint64(fieldAmount))
		if err != nil {
			return nil, err
		}
		if !ok || len(amountBuf) != 8 {
			continue
		}
		amount := int64(binary.BigEndian.Uint64(amountBuf))
		if amountGTE != nil && amount < *amountGTE {
			continue
		}
		out = append(out, expense{UUID: id, Amount: amount})
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func routes(e *engine, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/expenses", func(w http.ResponseWriter, req *http.Request) {
		var body createExpenseRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		var resp *expense
		err := e.withRoot(func(root nested.TreeEntry) error {
			created, err := insertExpense(root, body)
			resp = created
			return err
		})
		if err != nil {
			log.Error().Err(err).Msg("insert expense")
			http.Error(w, "Error writing expense!", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Get("/expenses/{uuid}", func(w http.ResponseWriter, req *http.Request) {
		id, err := uuid.Parse(chi.URLParam(req, "uuid"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var resp *expense
		err = e.withRoot(func(root nested.TreeEntry) error {
			found, err := readExpense(root, id)
			resp = found
			return err
		})
		if err != nil {
			log.Error().Err(err).Msg("read expense")
			http.Error(w, "Error reading expense!", http.StatusInternalServerError)
			return
		}
		if resp == nil {
			http.Error(w, "Expense not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Get("/expenses", func(w http.ResponseWriter, req *http.Request) {
		var amountGTE *int64
		if raw := req.URL.Query().Get("amount[gte]"); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				http.Error(w, "invalid amount[gte]", http.StatusBadRequest)
				return
			}
			amountGTE = &parsed
		}
		var resp []expense
		err := e.withRoot(func(root nested.TreeEntry) error {
			found, err := listExpenses(root, amountGTE)
			resp = found
			return err
		})
		if err != nil {
			log.Error().Err(err).Msg("list expenses")
			http.Error(w, "Error reading expense!", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	return r
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "address to listen on")
	dbPath := flag.String("db-path", "database.dat", "path to the database file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	log := xlog.New(os.Stderr, xlog.ParseLevel(*logLevel))

	_, statErr := os.Stat(*dbPath)
	exists := statErr == nil

	file, err := os.OpenFile(*dbPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		log.Fatal().Err(err).Str("path", *dbPath).Msg("open database file")
	}
	defer file.Close()

	var db *storage.Database
	if exists {
		db, err = storage.OpenExisting(file, storage.WithLogger(log))
	} else {
		db, err = storage.Initialize(file, storage.WithLogger(log))
	}
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}

	e := &engine{db: db}
	handler := routes(e, log)

	log.Info().Str("addr", *addr).Str("db_path", *dbPath).Msg("budgetserver listening")
	if err := http.ListenAndServe(*addr, handler); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}
