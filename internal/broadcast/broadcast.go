// Package broadcast рассылает события аукциона подключённым наблюдателям.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Broadcaster уведомляет наблюдателей о продлении аукциона.
type Broadcaster interface {
	NotifyAuctionExtended(ctx context.Context, auctionID string, newEndTime time.Time) error
}

// ExtendedEvent описывает сообщение о продлении аукциона.
type ExtendedEvent struct {
	AuctionID  string    `json:"auction_id"`
	NewEndTime time.Time `json:"new_end_time"`
}

// ExtendedChannel возвращает имя канала Redis для событий продления аукциона.
func ExtendedChannel(auctionID string) string {
	return fmt.Sprintf("auction:%s:extended", auctionID)
}

// RedisBroadcaster публикует события в Redis Pub/Sub.
type RedisBroadcaster struct {
	client *redis.Client
}

// NewRedisBroadcaster подключается к Redis по адресу addr.
func NewRedisBroadcaster(ctx context.Context, addr, password string, db int) (*RedisBroadcaster, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisBroadcaster{client: client}, nil
}

// NotifyAuctionExtended публикует событие продления.
func (b *RedisBroadcaster) NotifyAuctionExtended(ctx context.Context, auctionID string, newEndTime time.Time) error {
	payload, err := json.Marshal(ExtendedEvent{AuctionID: auctionID, NewEndTime: newEndTime.UTC()})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, ExtendedChannel(auctionID), payload).Err(); err != nil {
		return fmt.Errorf("publish extension: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis.
func (b *RedisBroadcaster) Close() error {
	return b.client.Close()
}

// Nop ничего не рассылает.
type Nop struct{}

// NotifyAuctionExtended ничего не делает.
func (Nop) NotifyAuctionExtended(context.Context, string, time.Time) error { return nil }
