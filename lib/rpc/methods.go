package rpc

// RPCPath is where the web ui control endpoint lives
const RPCPath = "/webUI/"

const MethodGetAllDownloads = "get_all_downloads"
const MethodPauseAll = "pause_all"
const MethodResumeAll = "resume_all"
const MethodRemoveAll = "remove_all"
const MethodPauseDownload = "pause_dl"
const MethodResumeDownload = "resume_dl"
const MethodRemoveDownload = "remove_dl"
const MethodGetSpeedInfo = "get_speed_info"
const MethodCheckTorrent = "check_torrent"
const MethodTorrentHealth = "torrent_health"
const MethodSubscribeFeed = "subscribe_feed"
const MethodUnsubscribeFeed = "unsubscribe_feed"
const MethodListFeeds = "list_feeds"

const ParamMethod = "method"
const ParamID = "id"
const ParamURL = "url"
const ParamKey = "key"
