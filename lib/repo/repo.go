// Package repo is the content repository: torrent, tracker mapping and
// channel tables in sqlite plus the .torrent blobs in a torrent store
package repo

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/majestrate/swarmwatch/lib/common"
	"github.com/majestrate/swarmwatch/lib/fs"
	"github.com/majestrate/swarmwatch/lib/log"
	"github.com/majestrate/swarmwatch/lib/metainfo"
	"github.com/majestrate/swarmwatch/lib/tracker"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")
var ErrInfohashMismatch = errors.New("torrent data does not match infohash")

// Status of a torrent as decided by tracker checking
type Status string

const (
	StatusGood    = Status("good")
	StatusUnknown = Status("unknown")
	StatusDead    = Status("dead")
)

// TorrentRecord is one row of the torrent table
type TorrentRecord struct {
	ID           int64
	Infohash     common.Infohash
	Name         string
	Length       int64
	PieceLength  int64
	NumFiles     int64
	CreationDate int64
	Comment      string
	// false for stubs learned from health gossip
	HasInfo    bool
	Source     string
	InsertTime int64
	Seeders    int64
	Leechers   int64
	LastCheck  int64
	NextCheck  int64
	Status     Status
	Retries    int
}

// TrackedTorrent is a torrent as seen from one tracker
type TrackedTorrent struct {
	ID        int64
	Infohash  common.Infohash
	LastCheck int64
}

// TorrentInfo is the descriptive part of a torrent without its pieces
type TorrentInfo struct {
	Name         string
	Length       int64
	CreationDate int64
	NumFiles     int64
	Comment      string
}

// Repository owns the torrent and tracker tables
type Repository struct {
	db    *sql.DB
	store fs.Driver
	dir   string
	now   func() time.Time
}

// Open opens or creates the database at dbpath. Torrent blobs go to dir on
// store.
func Open(dbpath string, store fs.Driver, dir string) (r *Repository, err error) {
	var db *sql.DB
	db, err = sql.Open("sqlite", dbpath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer, and :memory: databases are per connection
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=10000",
	}
	if dbpath != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL")
	}
	for _, pragma := range pragmas {
		if _, err = db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	if store != nil {
		err = store.EnsureDir(dir)
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	r = &Repository{
		db:    db,
		store: store,
		dir:   dir,
		now:   time.Now,
	}
	return
}

func (r *Repository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTorrent(row scanner) (t *TorrentRecord, err error) {
	var ih, status string
	var hasInfo int
	t = new(TorrentRecord)
	err = row.Scan(&t.ID, &ih, &t.Name, &t.Length, &t.PieceLength, &t.NumFiles, &t.CreationDate,
		&t.Comment, &hasInfo, &t.Source, &t.InsertTime, &t.Seeders, &t.Leechers, &t.LastCheck,
		&t.NextCheck, &status, &t.Retries)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Infohash, err = common.DecodeInfohash(ih)
	t.HasInfo = hasInfo != 0
	t.Status = Status(status)
	return
}

func (r *Repository) queryTorrents(q string, args ...interface{}) (torrents []TorrentRecord, err error) {
	var rows *sql.Rows
	rows, err = r.db.Query(q, args...)
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var t *TorrentRecord
		t, err = scanTorrent(rows)
		if err != nil {
			return
		}
		torrents = append(torrents, *t)
	}
	err = rows.Err()
	return
}

// GetTorrentID returns the row id of a torrent
func (r *Repository) GetTorrentID(ih common.Infohash) (id int64, err error) {
	err = r.db.QueryRow("SELECT torrent_id FROM torrent WHERE infohash = ?", ih.Hex()).Scan(&id)
	if err == sql.ErrNoRows {
		err = ErrNotFound
	}
	return
}

func (r *Repository) HasTorrent(ih common.Infohash) bool {
	_, err := r.GetTorrentID(ih)
	return err == nil
}

// GetTorrent returns the stored record for ih or ErrNotFound
func (r *Repository) GetTorrent(ih common.Infohash) (*TorrentRecord, error) {
	row := r.db.QueryRow("SELECT "+torrentColumns+" FROM torrent WHERE infohash = ?", ih.Hex())
	return scanTorrent(row)
}

// AddTrackerMapping associates a tracker with a torrent. The url is
// canonicalised first, the DHT markers are stored as is.
func (r *Repository) AddTrackerMapping(id int64, url string) (err error) {
	url, err = tracker.CanonicalURL(url)
	if err != nil {
		return
	}
	_, err = r.db.Exec("INSERT OR IGNORE INTO torrent_tracker(torrent_id, tracker) VALUES(?, ?)", id, url)
	return
}

// GetTorrentListOnTracker returns the torrents mapped to a tracker whose
// next_check is due at now, with when they were last checked
func (r *Repository) GetTorrentListOnTracker(url string, now time.Time) (torrents []TrackedTorrent, err error) {
	var rows *sql.Rows
	rows, err = r.db.Query(`SELECT t.torrent_id, t.infohash, t.last_check FROM torrent t
JOIN torrent_tracker tt ON tt.torrent_id = t.torrent_id
WHERE tt.tracker = ? AND t.next_check <= ? ORDER BY t.last_check`, url, now.Unix())
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var tt TrackedTorrent
		var ih string
		err = rows.Scan(&tt.ID, &ih, &tt.LastCheck)
		if err != nil {
			return
		}
		tt.Infohash, err = common.DecodeInfohash(ih)
		if err != nil {
			return
		}
		torrents = append(torrents, tt)
	}
	err = rows.Err()
	return
}

// GetTrackersOfTorrent lists the trackers mapped to a torrent
func (r *Repository) GetTrackersOfTorrent(id int64) ([]string, error) {
	return r.queryStrings("SELECT tracker FROM torrent_tracker WHERE torrent_id = ? ORDER BY tracker", id)
}

// AllTrackers lists every distinct tracker url we know of
func (r *Repository) AllTrackers() ([]string, error) {
	return r.queryStrings("SELECT DISTINCT tracker FROM torrent_tracker ORDER BY tracker")
}

func (r *Repository) queryStrings(q string, args ...interface{}) (l []string, err error) {
	var rows *sql.Rows
	rows, err = r.db.Query(q, args...)
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var s string
		err = rows.Scan(&s)
		if err != nil {
			return
		}
		l = append(l, s)
	}
	err = rows.Err()
	return
}

// UpdateTorrentCheckResult commits the outcome of checking one torrent
func (r *Repository) UpdateTorrentCheckResult(id int64, ih common.Infohash, seeders, leechers, lastCheck, nextCheck int64, status Status, retries int) (err error) {
	var res sql.Result
	res, err = r.db.Exec(`UPDATE torrent SET seeders = ?, leechers = ?, last_check = ?, next_check = ?, status = ?, retries = ?
WHERE torrent_id = ? AND infohash = ?`, seeders, leechers, lastCheck, nextCheck, string(status), retries, id, ih.Hex())
	if err == nil {
		var n int64
		n, err = res.RowsAffected()
		if err == nil && n == 0 {
			err = ErrNotFound
		}
	}
	return
}

func (r *Repository) insertStub(ih common.Infohash, source string) (id int64, err error) {
	_, err = r.db.Exec("INSERT OR IGNORE INTO torrent(infohash, source, insert_time) VALUES(?, ?, ?)", ih.Hex(), source, r.now().Unix())
	if err == nil {
		id, err = r.GetTorrentID(ih)
	}
	return
}

// AddTorrent stores a parsed torrent and its raw bytes, filling in a stub
// row if one exists. Every announce url that canonicalises is mapped; a
// torrent without any is mapped to the DHT marker.
func (r *Repository) AddTorrent(tf *metainfo.TorrentFile, raw []byte, source string) (id int64, err error) {
	ih := tf.Infohash()
	if len(raw) == 0 {
		raw, err = tf.Bytes()
		if err != nil {
			return
		}
	}
	err = r.SaveTorrentBlob(ih, raw)
	if err != nil {
		return
	}
	id, err = r.insertStub(ih, source)
	if err != nil {
		return
	}
	_, err = r.db.Exec(`UPDATE torrent SET name = ?, length = ?, piece_length = ?, num_files = ?, creation_date = ?,
comment = ?, has_info = 1, source = ? WHERE torrent_id = ?`, tf.Name(), tf.TotalSize(), tf.Info().PieceLength,
		tf.NumFiles(), tf.CreationDate, tf.Comment, source, id)
	if err != nil {
		return
	}
	mapped := 0
	for _, a := range tf.GetAllAnnounceURLS() {
		if e := r.AddTrackerMapping(id, a); e != nil {
			log.Debugf("torrent %s: skipping tracker %q: %s", ih.Hex(), a, e.Error())
			continue
		}
		mapped++
	}
	if mapped == 0 {
		err = r.AddTrackerMapping(id, tracker.DHT)
	}
	return
}

// UpdateTorrentInfo fills the descriptive fields of a stub learned from
// gossip. Rows that already have info are left alone.
func (r *Repository) UpdateTorrentInfo(ih common.Infohash, info TorrentInfo) (err error) {
	_, err = r.db.Exec(`UPDATE torrent SET name = ?, length = ?, creation_date = ?, num_files = ?, comment = ?
WHERE infohash = ? AND has_info = 0`, info.Name, info.Length, info.CreationDate, info.NumFiles, info.Comment, ih.Hex())
	return
}

// UpdateTorrentHealth stores gossiped health, inserting a stub for an
// unknown infohash. created is true if a stub was inserted.
func (r *Repository) UpdateTorrentHealth(ih common.Infohash, seeders, leechers, ts int64) (created bool, err error) {
	var id int64
	id, err = r.GetTorrentID(ih)
	if err == ErrNotFound {
		created = true
		id, err = r.insertStub(ih, "gossip")
		if err == nil {
			err = r.AddTrackerMapping(id, tracker.DHT)
		}
	}
	if err != nil {
		return
	}
	status := StatusUnknown
	if seeders > 0 || leechers > 0 {
		status = StatusGood
	}
	_, err = r.db.Exec("UPDATE torrent SET seeders = ?, leechers = ?, last_check = ?, status = ? WHERE torrent_id = ?",
		seeders, leechers, ts, string(status), id)
	return
}

// SearchTorrents does a local keyword search, every keyword must appear in
// the name
func (r *Repository) SearchTorrents(keywords []string, limit int) ([]TorrentRecord, error) {
	var where []string
	var args []interface{}
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		where = append(where, "name LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(strings.ToLower(kw))+"%")
	}
	if len(where) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	q := "SELECT " + torrentColumns + " FROM torrent WHERE has_info = 1 AND " + strings.Join(where, " AND ") +
		" ORDER BY seeders DESC, name LIMIT ?"
	return r.queryTorrents(q, args...)
}

func escapeLike(s string) string {
	return strings.NewReplacer("\\", "\\\\", "%", "\\%", "_", "\\_").Replace(s)
}

// RecentlyChecked returns up to limit random live torrents checked since
func (r *Repository) RecentlyChecked(since time.Time, limit int) ([]TorrentRecord, error) {
	return r.queryTorrents("SELECT "+torrentColumns+" FROM torrent WHERE last_check >= ? AND (seeders > 0 OR leechers > 0) ORDER BY RANDOM() LIMIT ?",
		since.Unix(), limit)
}

// Popular returns the torrents with the most seeders
func (r *Repository) Popular(limit int) ([]TorrentRecord, error) {
	return r.queryTorrents("SELECT "+torrentColumns+" FROM torrent WHERE seeders > 0 ORDER BY seeders DESC, leechers DESC LIMIT ?", limit)
}

// Count returns the number of torrent rows
func (r *Repository) Count() (n int64, err error) {
	err = r.db.QueryRow("SELECT COUNT(*) FROM torrent").Scan(&n)
	return
}
