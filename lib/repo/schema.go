package repo

const schema = `
CREATE TABLE IF NOT EXISTS torrent (
	torrent_id    INTEGER PRIMARY KEY AUTOINCREMENT,
	infohash      TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL DEFAULT '',
	length        INTEGER NOT NULL DEFAULT 0,
	piece_length  INTEGER NOT NULL DEFAULT 0,
	num_files     INTEGER NOT NULL DEFAULT 0,
	creation_date INTEGER NOT NULL DEFAULT 0,
	comment       TEXT NOT NULL DEFAULT '',
	has_info      INTEGER NOT NULL DEFAULT 0,
	source        TEXT NOT NULL DEFAULT '',
	insert_time   INTEGER NOT NULL DEFAULT 0,
	seeders       INTEGER NOT NULL DEFAULT 0,
	leechers      INTEGER NOT NULL DEFAULT 0,
	last_check    INTEGER NOT NULL DEFAULT 0,
	next_check    INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'unknown',
	retries       INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS torrent_tracker (
	torrent_id INTEGER NOT NULL REFERENCES torrent(torrent_id),
	tracker    TEXT NOT NULL,
	PRIMARY KEY (torrent_id, tracker)
);
CREATE INDEX IF NOT EXISTS torrent_tracker_url ON torrent_tracker(tracker);
CREATE INDEX IF NOT EXISTS torrent_last_check ON torrent(last_check);
CREATE TABLE IF NOT EXISTS channel (
	channel_id TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	votes      INTEGER NOT NULL DEFAULT 0,
	torrents   INTEGER NOT NULL DEFAULT 0,
	swarm_size INTEGER NOT NULL DEFAULT 0,
	timestamp  INTEGER NOT NULL DEFAULT 0
);
`

const torrentColumns = `torrent_id, infohash, name, length, piece_length, num_files, creation_date,
comment, has_info, source, insert_time, seeders, leechers, last_check, next_check, status, retries`
