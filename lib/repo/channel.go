package repo

import (
	"database/sql"
	"encoding/hex"
	"strings"
)

// ChannelRecord is the aggregated health of one channel
type ChannelRecord struct {
	// raw channel identifier
	ID        []byte
	Name      string
	Votes     int64
	Torrents  int64
	SwarmSize int64
	Timestamp int64
}

const channelColumns = "channel_id, name, votes, torrents, swarm_size, timestamp"

func scanChannel(row scanner) (c *ChannelRecord, err error) {
	var id string
	c = new(ChannelRecord)
	err = row.Scan(&id, &c.Name, &c.Votes, &c.Torrents, &c.SwarmSize, &c.Timestamp)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err == nil {
		c.ID, err = hex.DecodeString(id)
	}
	return
}

// UpdateChannelHealth stores c unless we already hold a newer record.
// updated is false when the stored record won.
func (r *Repository) UpdateChannelHealth(c ChannelRecord) (updated bool, err error) {
	var res sql.Result
	res, err = r.db.Exec(`INSERT INTO channel(channel_id, name, votes, torrents, swarm_size, timestamp) VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(channel_id) DO UPDATE SET
	name = CASE WHEN excluded.name != '' THEN excluded.name ELSE channel.name END,
	votes = excluded.votes, torrents = excluded.torrents, swarm_size = excluded.swarm_size, timestamp = excluded.timestamp
WHERE excluded.timestamp > channel.timestamp`,
		hex.EncodeToString(c.ID), c.Name, c.Votes, c.Torrents, c.SwarmSize, c.Timestamp)
	if err == nil {
		var n int64
		n, err = res.RowsAffected()
		updated = n > 0
	}
	return
}

func (r *Repository) GetChannel(id []byte) (*ChannelRecord, error) {
	return scanChannel(r.db.QueryRow("SELECT "+channelColumns+" FROM channel WHERE channel_id = ?", hex.EncodeToString(id)))
}

func (r *Repository) queryChannels(q string, args ...interface{}) (channels []ChannelRecord, err error) {
	var rows *sql.Rows
	rows, err = r.db.Query(q, args...)
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var c *ChannelRecord
		c, err = scanChannel(rows)
		if err != nil {
			return
		}
		channels = append(channels, *c)
	}
	err = rows.Err()
	return
}

// Channels returns the channels with the largest swarms
func (r *Repository) Channels(limit int) ([]ChannelRecord, error) {
	return r.queryChannels("SELECT "+channelColumns+" FROM channel ORDER BY swarm_size DESC, votes DESC LIMIT ?", limit)
}

// SearchChannels matches every keyword against channel names
func (r *Repository) SearchChannels(keywords []string, limit int) ([]ChannelRecord, error) {
	var where []string
	var args []interface{}
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw != "" {
			where = append(where, "name LIKE ? ESCAPE '\\'")
			args = append(args, "%"+escapeLike(kw)+"%")
		}
	}
	if len(where) == 0 {
		return nil, nil
	}
	args = append(args, limit)
	return r.queryChannels("SELECT "+channelColumns+" FROM channel WHERE "+strings.Join(where, " AND ")+
		" ORDER BY votes DESC LIMIT ?", args...)
}
