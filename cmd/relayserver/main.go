package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/expogarden/realtime/internal/chat"
	"github.com/expogarden/realtime/internal/messaging"
	"github.com/expogarden/realtime/internal/metrics"
	"github.com/expogarden/realtime/internal/presence"
	"github.com/expogarden/realtime/internal/protocol"
	"github.com/expogarden/realtime/internal/ratelimit"
	"github.com/expogarden/realtime/internal/session"
	"github.com/expogarden/realtime/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig.URL = natsURL
	}
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	serverName, _ := os.Hostname()
	if v := os.Getenv("SERVER_NAME"); v != "" {
		serverName = v
	}
	if serverName == "" {
		serverName = "relay-1"
	}

	sessionStore, err := session.NewStore(redisAddr, serverName)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}

	limiter := ratelimit.NewLimiter(sessionStore.Client())
	roster := presence.NewRoster()

	log.Printf("Expo Garden relay starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections:  %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  server_name:     %s", serverName)

	// Declare server early so closures can capture it.
	var server *ws.Server

	hallLabel := func(hallID int64) string {
		return strconv.FormatInt(hallID, 10)
	}

	// subscribeHallPresence wires a session to the hall.<hallID> subject. Every
	// presence event is forwarded verbatim — including the subscriber's own,
	// which the client filters by userId.
	subscribeHallPresence := func(sid string, hallID int64) {
		if err := natsClient.SubscribeHall(hallID, sid, func(data []byte) {
			var event protocol.PlayerEvent
			if err := json.Unmarshal(data, &event); err != nil {
				log.Printf("[hall-sub] unmarshal error for session=%s: %v", sid, err)
				return
			}
			resp, _ := protocol.NewServerMessage(protocol.TypePlayer, protocol.PlayerMsg{Event: event})
			if err := server.SendMessage(sid, resp); err != nil {
				log.Printf("[hall-sub] send to session=%s failed: %v", sid, err)
			}
		}); err != nil {
			log.Printf("[hall-sub] subscribe hall=%d for session=%s FAILED: %v", hallID, sid, err)
		}
	}

	subscribeHallChat := func(sid string, hallID int64) {
		if err := natsClient.SubscribeHallChat(hallID, sid, func(data []byte) {
			var event protocol.HallChatEvent
			if err := json.Unmarshal(data, &event); err != nil {
				log.Printf("[chat-sub] unmarshal error for session=%s: %v", sid, err)
				return
			}
			resp, _ := protocol.NewServerMessage(protocol.TypeHallChat, protocol.ServerHallChatMsg{Event: event})
			if err := server.SendMessage(sid, resp); err != nil {
				log.Printf("[chat-sub] send to session=%s failed: %v", sid, err)
			}
		}); err != nil {
			log.Printf("[chat-sub] subscribe hall=%d for session=%s FAILED: %v", hallID, sid, err)
		}
	}

	subscribeBoothChat := func(sid string, boothID int64) {
		if err := natsClient.SubscribeBooth(boothID, sid, func(data []byte) {
			var event protocol.BoothChatEvent
			if err := json.Unmarshal(data, &event); err != nil {
				log.Printf("[booth-sub] unmarshal error for session=%s: %v", sid, err)
				return
			}
			resp, _ := protocol.NewServerMessage(protocol.TypeBoothChat, protocol.ServerBoothChatMsg{Event: event})
			if err := server.SendMessage(sid, resp); err != nil {
				log.Printf("[booth-sub] send to session=%s failed: %v", sid, err)
			}
		}); err != nil {
			log.Printf("[booth-sub] subscribe booth=%d for session=%s FAILED: %v", boothID, sid, err)
		}
	}

	dispatcher := ws.NewMessageDispatcher(nil)

	// -----------------------------------------------------------------------
	// join_hall — declare identity, subscribe to the hall, replay the roster
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinHall, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinHallMsg)
		if !ok {
			return
		}
		sid := conn.ID
		ctx := context.Background()

		event := protocol.PlayerEvent{
			UserID:    joinMsg.UserID,
			Nickname:  chat.NicknameOrGuest(joinMsg.Nickname),
			X:         joinMsg.X,
			Y:         joinMsg.Y,
			CharIndex: joinMsg.CharIndex,
			HallID:    joinMsg.HallID,
			Timestamp: time.Now().UnixMilli(),
			Type:      protocol.EventJoin,
		}

		roster.Add(joinMsg.HallID, sid, event)
		if err := sessionStore.JoinHall(ctx, sid, joinMsg.HallID, joinMsg.UserID,
			event.Nickname, joinMsg.CharIndex, joinMsg.X, joinMsg.Y); err != nil {
			log.Printf("[join_hall] session store update failed session=%s: %v", sid, err)
		}

		subscribeHallPresence(sid, joinMsg.HallID)
		subscribeHallChat(sid, joinMsg.HallID)

		// Replay everyone already in the hall to the new subscriber so it can
		// render occupants at their last known positions. The joiner's own
		// entry is excluded; its JOIN arrives via the broadcast below.
		for _, existing := range roster.Snapshot(joinMsg.HallID, sid) {
			resp, _ := protocol.NewServerMessage(protocol.TypePlayer, protocol.PlayerMsg{Event: existing})
			if err := server.SendMessage(sid, resp); err != nil {
				log.Printf("[join_hall] roster replay to session=%s failed: %v", sid, err)
				break
			}
		}

		data, _ := json.Marshal(event)
		start := time.Now()
		if err := natsClient.PublishHallEvent(joinMsg.HallID, data); err != nil {
			log.Printf("[join_hall] publish failed session=%s: %v", sid, err)
		}
		metrics.FanoutLatency.Observe(time.Since(start).Seconds())
		metrics.EventsTotal.WithLabelValues("join").Inc()
		metrics.HallOccupancy.WithLabelValues(hallLabel(joinMsg.HallID)).Set(float64(roster.Count(joinMsg.HallID)))

		log.Printf("join_hall session=%s hall=%d user=%d nickname=%q",
			sid, joinMsg.HallID, joinMsg.UserID, event.Nickname)
	})

	// -----------------------------------------------------------------------
	// position — relay an UPDATE to the hall (implicit join for unknown sessions)
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypePosition, func(conn *ws.Connection, msg interface{}) {
		posMsg, ok := msg.(protocol.PositionMsg)
		if !ok {
			return
		}
		sid := conn.ID

		event := protocol.PlayerEvent{
			UserID:    posMsg.UserID,
			Nickname:  chat.NicknameOrGuest(posMsg.Nickname),
			X:         posMsg.X,
			Y:         posMsg.Y,
			CharIndex: posMsg.CharIndex,
			HallID:    posMsg.HallID,
			Timestamp: time.Now().UnixMilli(),
			Type:      protocol.EventUpdate,
		}

		// An UPDATE for a session the roster doesn't know is an implicit join.
		roster.Update(posMsg.HallID, sid, event)

		data, _ := json.Marshal(event)
		start := time.Now()
		if err := natsClient.PublishHallEvent(posMsg.HallID, data); err != nil {
			log.Printf("[position] publish failed session=%s: %v", sid, err)
		}
		metrics.FanoutLatency.Observe(time.Since(start).Seconds())
		metrics.EventsTotal.WithLabelValues("update").Inc()

		if err := sessionStore.UpdatePosition(context.Background(), sid, posMsg.X, posMsg.Y); err != nil {
			log.Printf("[position] session store update failed session=%s: %v", sid, err)
		}
	})

	// -----------------------------------------------------------------------
	// leave_hall — broadcast LEAVE and tear down hall subscriptions
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeLeaveHall, func(conn *ws.Connection, msg interface{}) {
		sid := conn.ID
		ctx := context.Background()

		hallID, last, found := roster.RemoveBySession(sid)
		if !found {
			// Leave without a join is a no-op.
			return
		}

		event := last
		event.Timestamp = time.Now().UnixMilli()
		event.Type = protocol.EventLeave

		data, _ := json.Marshal(event)
		if err := natsClient.PublishHallEvent(hallID, data); err != nil {
			log.Printf("[leave_hall] publish failed session=%s: %v", sid, err)
		}
		metrics.EventsTotal.WithLabelValues("leave").Inc()
		metrics.HallOccupancy.WithLabelValues(hallLabel(hallID)).Set(float64(roster.Count(hallID)))

		_ = natsClient.UnsubscribeHall(sid)
		_ = natsClient.UnsubscribeHallChat(sid)
		if err := sessionStore.LeaveHall(ctx, sid); err != nil {
			log.Printf("[leave_hall] session store update failed session=%s: %v", sid, err)
		}

		log.Printf("leave_hall session=%s hall=%d user=%d", sid, hallID, event.UserID)
	})

	// -----------------------------------------------------------------------
	// hall_chat — validate, rate limit, and publish to the hall chat subject
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeHallChat, func(conn *ws.Connection, msg interface{}) {
		chatMsg, ok := msg.(protocol.HallChatMsg)
		if !ok {
			return
		}
		sid := conn.ID
		ctx := context.Background()

		allowed, _ := limiter.Allow(ctx, sid, ratelimit.RuleChat)
		if !allowed {
			metrics.EventsTotal.WithLabelValues("dropped").Inc()
			resp, _ := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: int(ratelimit.RuleChat.Window.Seconds()),
			})
			conn.WriteMessage(resp)
			return
		}

		text, err := chat.Normalize(chatMsg.Message)
		if err != nil {
			metrics.EventsTotal.WithLabelValues("dropped").Inc()
			errResp, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
				Code: "invalid_message", Message: err.Error(),
			})
			conn.WriteMessage(errResp)
			return
		}

		event := protocol.HallChatEvent{
			HallID:    chatMsg.HallID,
			UserID:    chatMsg.UserID,
			Nickname:  chat.NicknameOrGuest(chatMsg.Nickname),
			Message:   text,
			Timestamp: time.Now().UnixMilli(),
			Type:      protocol.EventChat,
		}
		data, _ := json.Marshal(event)
		start := time.Now()
		if err := natsClient.PublishHallChat(chatMsg.HallID, data); err != nil {
			log.Printf("[hall_chat] publish failed session=%s: %v", sid, err)
		}
		metrics.FanoutLatency.Observe(time.Since(start).Seconds())
		metrics.EventsTotal.WithLabelValues("hall_chat").Inc()

		log.Printf("hall_chat session=%s hall=%d user=%d text_len=%d",
			sid, chatMsg.HallID, chatMsg.UserID, len(text))
	})

	// -----------------------------------------------------------------------
	// join_booth — subscribe to a booth room and announce the join
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinBooth, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinBoothMsg)
		if !ok {
			return
		}
		sid := conn.ID
		ctx := context.Background()

		subscribeBoothChat(sid, joinMsg.BoothID)
		if err := sessionStore.JoinBooth(ctx, sid, joinMsg.BoothID, joinMsg.UserID,
			chat.NicknameOrGuest(joinMsg.Nickname)); err != nil {
			log.Printf("[join_booth] session store update failed session=%s: %v", sid, err)
		}

		event := protocol.BoothChatEvent{
			BoothID:   joinMsg.BoothID,
			UserID:    joinMsg.UserID,
			Nickname:  chat.NicknameOrGuest(joinMsg.Nickname),
			Timestamp: time.Now().UnixMilli(),
			Type:      protocol.EventJoin,
		}
		data, _ := json.Marshal(event)
		if err := natsClient.PublishBoothChat(joinMsg.BoothID, data); err != nil {
			log.Printf("[join_booth] publish failed session=%s: %v", sid, err)
		}

		log.Printf("join_booth session=%s booth=%d user=%d", sid, joinMsg.BoothID, joinMsg.UserID)
	})

	// -----------------------------------------------------------------------
	// booth_chat — validate, rate limit, and publish to the booth subject
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeBoothChat, func(conn *ws.Connection, msg interface{}) {
		chatMsg, ok := msg.(protocol.BoothChatMsg)
		if !ok {
			return
		}
		sid := conn.ID
		ctx := context.Background()

		allowed, _ := limiter.Allow(ctx, sid, ratelimit.RuleChat)
		if !allowed {
			metrics.EventsTotal.WithLabelValues("dropped").Inc()
			resp, _ := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
				RetryAfter: int(ratelimit.RuleChat.Window.Seconds()),
			})
			conn.WriteMessage(resp)
			return
		}

		text, err := chat.Normalize(chatMsg.Message)
		if err != nil {
			metrics.EventsTotal.WithLabelValues("dropped").Inc()
			errResp, _ := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
				Code: "invalid_message", Message: err.Error(),
			})
			conn.WriteMessage(errResp)
			return
		}

		event := protocol.BoothChatEvent{
			BoothID:   chatMsg.BoothID,
			UserID:    chatMsg.UserID,
			Nickname:  chat.NicknameOrGuest(chatMsg.Nickname),
			Message:   text,
			Timestamp: time.Now().UnixMilli(),
			Type:      protocol.EventChat,
		}
		data, _ := json.Marshal(event)
		if err := natsClient.PublishBoothChat(chatMsg.BoothID, data); err != nil {
			log.Printf("[booth_chat] publish failed session=%s: %v", sid, err)
		}
		metrics.EventsTotal.WithLabelValues("booth_chat").Inc()

		log.Printf("booth_chat session=%s booth=%d user=%d text_len=%d",
			sid, chatMsg.BoothID, chatMsg.UserID, len(text))
	})

	// -----------------------------------------------------------------------
	// leave_booth — tear down the booth subscription
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeLeaveBooth, func(conn *ws.Connection, msg interface{}) {
		sid := conn.ID

		_ = natsClient.UnsubscribeBooth(sid)
		if err := sessionStore.LeaveBooth(context.Background(), sid); err != nil {
			log.Printf("[leave_booth] session store update failed session=%s: %v", sid, err)
		}

		log.Printf("leave_booth session=%s", sid)
	})

	server = ws.NewServer(config, sessionStore, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	// Per-IP connect rate limiting before the WebSocket upgrade.
	server.SetConnectionGate(func(remoteIP string) bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		allowed, _ := limiter.Allow(ctx, remoteIP, ratelimit.RuleConnect)
		return allowed
	})

	// Disconnect cleanup: a connection that dies while in a hall never sent a
	// leave_hall, so the relay synthesizes the LEAVE broadcast on its behalf.
	// Other hall subscribers otherwise keep rendering a ghost player forever.
	server.SetOnDisconnect(func(connID string) {
		hallID, last, found := roster.RemoveBySession(connID)
		if found {
			event := last
			event.Timestamp = time.Now().UnixMilli()
			event.Type = protocol.EventLeave

			data, _ := json.Marshal(event)
			if err := natsClient.PublishHallEvent(hallID, data); err != nil {
				log.Printf("[disconnect] synthetic LEAVE publish failed session=%s: %v", connID, err)
			}
			metrics.EventsTotal.WithLabelValues("leave").Inc()
			metrics.HallOccupancy.WithLabelValues(hallLabel(hallID)).Set(float64(roster.Count(hallID)))

			log.Printf("[disconnect] session=%s hall=%d user=%d synthetic LEAVE broadcast",
				connID, hallID, last.UserID)
		}

		_ = natsClient.UnsubscribeHall(connID)
		_ = natsClient.UnsubscribeHallChat(connID)
		_ = natsClient.UnsubscribeBooth(connID)
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		natsClient.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := sessionStore.Close(); err != nil {
			log.Printf("session store close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
