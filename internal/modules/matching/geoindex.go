// README: Online driver positions mirrored into a Redis GEO set for nearby searches.
package matching

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"trigo/internal/modules/driver"
	"trigo/internal/types"
)

const (
	driverGeoKey     = "trigo:drivers:online"
	driverVersionKey = "trigo:drivers:position-version"
)

// GeoIndex is a read-optimized copy of matchable driver positions. Each member
// carries the position version it was written from, so readers can tell a
// current entry from a stale or missing one.
type GeoIndex struct {
	redis      *redis.Client
	key        string
	versionKey string
}

func NewGeoIndex(client *redis.Client) *GeoIndex {
	return &GeoIndex{redis: client, key: driverGeoKey, versionKey: driverVersionKey}
}

func (g *GeoIndex) Upsert(ctx context.Context, p driver.Profile) error {
	pipe := g.redis.TxPipeline()
	g.add(ctx, pipe, p)
	_, err := pipe.Exec(ctx)
	return err
}

func (g *GeoIndex) Remove(ctx context.Context, driverID types.ID) error {
	pipe := g.redis.TxPipeline()
	pipe.ZRem(ctx, g.key, string(driverID))
	pipe.HDel(ctx, g.versionKey, string(driverID))
	_, err := pipe.Exec(ctx)
	return err
}

// Nearby returns driver ids within radiusKm of p, nearest first. Redis measures
// with its own earth radius, so callers pad the radius.
func (g *GeoIndex) Nearby(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error) {
	results, err := g.redis.GeoRadius(ctx, g.key, p.Lng, p.Lat, &redis.GeoRadiusQuery{
		Radius: radiusKm,
		Unit:   "km",
		Sort:   "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r.Name)
	}
	return ids, nil
}

// Versions returns the indexed position version of each id that has one.
func (g *GeoIndex) Versions(ctx context.Context, ids []types.ID) (map[types.ID]int64, error) {
	out := make(map[types.ID]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	fields := make([]string, len(ids))
	for i, id := range ids {
		fields[i] = string(id)
	}
	vals, err := g.redis.HMGet(ctx, g.versionKey, fields...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		out[ids[i]] = n
	}
	return out, nil
}

// Rebuild replaces the index with the matchable profiles.
func (g *GeoIndex) Rebuild(ctx context.Context, profiles []driver.Profile) error {
	pipe := g.redis.TxPipeline()
	pipe.Del(ctx, g.key, g.versionKey)
	for _, p := range profiles {
		if p.Matchable() {
			g.add(ctx, pipe, p)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (g *GeoIndex) add(ctx context.Context, pipe redis.Pipeliner, p driver.Profile) {
	pipe.GeoAdd(ctx, g.key, &redis.GeoLocation{
		Name:      string(p.UserID),
		Longitude: p.Location.Lng,
		Latitude:  p.Location.Lat,
	})
	pipe.HSet(ctx, g.versionKey, string(p.UserID), strconv.FormatInt(p.PositionVersion(), 10))
}
