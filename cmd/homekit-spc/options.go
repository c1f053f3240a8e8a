package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/caarlos0/homekit-spc/entry"
)

// store is the part of hap.Store used to persist entry options.
type store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
}

func optionsKey(id string) string {
	return id + ".options"
}

// loadOptions returns the persisted options, or empty options when there
// are none.
func loadOptions(st store, id string) entry.Options {
	var opts entry.Options
	bts, err := st.Get(optionsKey(id))
	if err != nil || len(bts) == 0 {
		return opts
	}
	if err := json.Unmarshal(bts, &opts); err != nil {
		log.Warn("ignoring invalid options", "entry", id, "err", err)
		return entry.Options{}
	}
	return opts
}

func saveOptions(st store, id string, opts entry.Options) error {
	bts, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("could not encode options: %w", err)
	}
	if err := st.Set(optionsKey(id), bts); err != nil {
		return fmt.Errorf("could not save options: %w", err)
	}
	return nil
}

type reloader interface {
	Reload(ctx context.Context, e entry.Entry) error
	SetupWithRetry(ctx context.Context, e entry.Entry) error
}

// optionsHandler updates the poll interval and reloads the entry. When the
// reload fails, the entry keeps retrying in the background until ctx is done.
func optionsHandler(ctx context.Context, cfg Config, st store, manager reloader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var opts entry.Options
		if v := r.FormValue("poll_interval"); v != "" {
			seconds, err := strconv.Atoi(v)
			if err != nil || seconds < 1 {
				http.Error(w, "poll interval must be a positive number of seconds", http.StatusBadRequest)
				return
			}
			opts.PollInterval = seconds
		}

		if err := saveOptions(st, cfg.entryID(), opts); err != nil {
			log.Error("could not save options", "err", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		log.Info("options changed, reloading", "poll_interval", opts.PollInterval)
		e := cfg.entry(opts)
		if err := manager.Reload(r.Context(), e); err != nil {
			log.Error("could not reload entry", "err", err)
			go func() {
				if err := manager.SetupWithRetry(ctx, e); err != nil {
					log.Error("could not set up entry", "err", err)
				}
			}()
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
	})
}
