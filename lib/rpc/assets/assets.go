// Package assets holds the static web ui in a go-assets file system
package assets

import (
	"net/http"
	"time"

	"github.com/jessevdk/go-assets"
)

var _indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>swarmwatch</title>
<link rel="stylesheet" href="/swarmwatch.css">
</head>
<body>
<form id="search">
<input name="q" placeholder="search">
<select name="collection">
<option value="overlay">overlay</option>
<option value="local">local</option>
</select>
<button>search</button>
</form>
<ul id="hits"></ul>
<h2>downloads</h2>
<p id="speed"></p>
<button data-method="pause_all">pause all</button>
<button data-method="resume_all">resume all</button>
<button data-method="remove_all">remove all</button>
<table id="downloads"></table>
<script src="/swarmwatch.js"></script>
</body>
</html>
`

var _swarmwatchJS = `(function() {
  function call(req, cb) {
    fetch("/webUI/?" + encodeURIComponent(JSON.stringify(req)))
      .then(function(r) { return r.json(); })
      .then(function(j) { if (j.success === "true" && cb) cb(j); });
  }
  function rate(n) {
    return (n / 1024).toFixed(1) + " KB/s";
  }
  function refresh() {
    call({method: "get_speed_info"}, function(j) {
      document.getElementById("speed").textContent = "down " + rate(j.downspeed) + " up " + rate(j.upspeed);
    });
    call({method: "get_all_downloads"}, function(j) {
      var table = document.getElementById("downloads");
      table.textContent = "";
      j.downloads.forEach(function(d) {
        var row = table.insertRow();
        row.insertCell().textContent = d.name;
        row.insertCell().textContent = d.status;
        row.insertCell().textContent = Math.round(d.progress * 100) + "%";
        ["pause_dl", "resume_dl", "remove_dl"].forEach(function(m) {
          var b = document.createElement("button");
          b.textContent = m.split("_")[0];
          b.onclick = function() { call({method: m, id: d.id}, refresh); };
          row.insertCell().appendChild(b);
        });
      });
    });
  }
  document.querySelectorAll("button[data-method]").forEach(function(b) {
    b.onclick = function() { call({method: b.dataset.method}, refresh); };
  });
  document.getElementById("search").onsubmit = function(ev) {
    ev.preventDefault();
    var q = new URLSearchParams(new FormData(ev.target));
    fetch("/search?" + q.toString())
      .then(function(r) { return r.text(); })
      .then(function(text) {
        var doc = new DOMParser().parseFromString(text, "application/xml");
        var list = document.getElementById("hits");
        list.textContent = "";
        doc.querySelectorAll("entry").forEach(function(e) {
          var li = document.createElement("li");
          var a = document.createElement("a");
          a.textContent = e.querySelector("title").textContent;
          var enc = e.querySelector("link[rel=enclosure]");
          if (enc) a.href = enc.getAttribute("href");
          li.appendChild(a);
          list.appendChild(li);
        });
      });
  };
  refresh();
  setInterval(refresh, 2000);
})();
`

var _swarmwatchCSS = `body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
td { padding: 0.2em 0.6em; }
`

var mtime = time.Unix(1760486400, 0)

// Assets is the web ui file tree
var Assets = assets.NewFileSystem(map[string][]string{
	"/": []string{"index.html", "swarmwatch.js", "swarmwatch.css"},
}, map[string]*assets.File{
	"/": &assets.File{
		Path:     "/",
		FileMode: 0x800001ed,
		Mtime:    mtime,
		Data:     nil,
	}, "/index.html": &assets.File{
		Path:     "/index.html",
		FileMode: 0x1a4,
		Mtime:    mtime,
		Data:     []byte(_indexHTML),
	}, "/swarmwatch.js": &assets.File{
		Path:     "/swarmwatch.js",
		FileMode: 0x1a4,
		Mtime:    mtime,
		Data:     []byte(_swarmwatchJS),
	}, "/swarmwatch.css": &assets.File{
		Path:     "/swarmwatch.css",
		FileMode: 0x1a4,
		Mtime:    mtime,
		Data:     []byte(_swarmwatchCSS),
	},
}, "")

func GetAssets() http.FileSystem {
	return Assets
}
