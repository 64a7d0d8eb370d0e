package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/disgoorg/snowflake/v2"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"

	"github.com/hiyorigaoka/roomkeeper/config"
	"github.com/hiyorigaoka/roomkeeper/discord"
	"github.com/hiyorigaoka/roomkeeper/game"
	"github.com/hiyorigaoka/roomkeeper/globals"
	"github.com/hiyorigaoka/roomkeeper/persistence"
	"github.com/hiyorigaoka/roomkeeper/room"
)

var configPath = pflag.StringP("config", "c", "", "path to config file or directory")

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	cfg, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	if missing := cfg.Validate(); len(missing) > 0 {
		globals.AppLogger.Error("configuration incomplete", "missing", missing)
		os.Exit(1)
	}
	if cfg.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))
	}

	if cfg.PersistenceConfig.LockPath != "" {
		lock, err := persistence.AcquireLock(cfg.PersistenceConfig.LockPath)
		if err != nil {
			globals.AppLogger.Error("could not acquire instance lock", "error", err)
			os.Exit(1)
		}
		defer lock.Unlock() //nolint
	}

	persister, err := persistence.NewPersister(cfg)
	if err != nil {
		panic(err)
	}
	defer persister.Close()

	session := discord.NewSession(cfg)
	games := game.NewRegistry(persister)
	manager, err := room.NewManager(session, games, persister, cfg)
	if err != nil {
		panic(err)
	}
	bridge := room.NewEventBridge(manager)

	session.OnVoiceStateUpdate(manager.HandleVoiceStateUpdate)
	bridge.Bind(session)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.Open(ctx); err != nil {
		globals.AppLogger.Error("could not connect to the gateway", "error", err)
		os.Exit(1)
	}
	defer session.Close()

	// recovery judges snapshots against the guild/channel caches, so it must
	// not run before the initial guild payloads have been applied
	if err := session.WaitReady(ctx); err != nil {
		globals.AppLogger.Error("gateway never became ready", "error", err)
		os.Exit(1)
	}

	if wantedID, err := snowflake.Parse(cfg.DiscordConfig.WantedChannelID); err == nil {
		if err := session.PrimeMessages(ctx, wantedID); err != nil {
			globals.AppLogger.Warn("could not prime wanted channel history", "error", err)
		}
	}

	manager.RecoverRooms(ctx)

	scheduler := cron.New()
	_, err = scheduler.AddFunc("@hourly", func() {
		if err := persister.Maintain(); err != nil {
			globals.AppLogger.Error("store maintenance failed", "error", err)
		}
	})
	if err != nil {
		globals.AppLogger.Error("could not schedule store maintenance", "error", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	go func() {
		err := http.ListenAndServe(cfg.StatusAddr, statusRouter(session, manager))
		globals.AppLogger.Error("status endpoint stopped", "error", err)
	}()

	globals.AppLogger.Info("roomkeeper running", "instance_id", session.InstanceID())
	<-ctx.Done()
	globals.AppLogger.Info("shutting down")
}

type roomStatus struct {
	ID          snowflake.ID   `json:"id"`
	GuildID     snowflake.ID   `json:"guild_id"`
	HostName    string         `json:"host_name"`
	Game        string         `json:"game"`
	Reserved    bool           `json:"reserved"`
	EventID     snowflake.ID   `json:"event_id,omitempty"`
	MemberCount int            `json:"member_count"`
	Channels    []snowflake.ID `json:"voice_channels"`
}

func statusOf(r *room.Room) roomStatus {
	return roomStatus{
		ID:          r.ID(),
		GuildID:     r.GuildID(),
		HostName:    r.HostName(),
		Game:        r.Game().Name,
		Reserved:    r.Reserved(),
		EventID:     r.EventID(),
		MemberCount: len(r.Members()),
		Channels:    r.VoiceChannelIDs(),
	}
}

func statusRouter(session *discord.Session, manager *room.Manager) http.Handler {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":      "ok",
			"instance_id": session.InstanceID(),
		})
	}).Methods(http.MethodGet)
	router.HandleFunc("/rooms", func(w http.ResponseWriter, r *http.Request) {
		statuses := make([]roomStatus, 0)
		for _, rm := range manager.Rooms() {
			statuses = append(statuses, statusOf(rm))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statuses)
	}).Methods(http.MethodGet)
	router.HandleFunc("/rooms/{id:[0-9]+}", func(w http.ResponseWriter, r *http.Request) {
		id, err := snowflake.Parse(mux.Vars(r)["id"])
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		rm, ok := manager.Get(id)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statusOf(rm))
	}).Methods(http.MethodGet)
	return router
}
