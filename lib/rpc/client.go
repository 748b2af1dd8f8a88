package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/majestrate/swarmwatch/lib/downloads"
	t "github.com/majestrate/swarmwatch/lib/translate"
)

type Client struct {
	url string
}

// NewClient makes a client for the control endpoint at url, unix:/path
// dials a unix socket
func NewClient(url string) *Client {
	return &Client{
		url: url,
	}
}

func (cl *Client) doRPC(r Request, h func(r io.Reader) error) (err error) {
	var buf bytes.Buffer
	err = json.NewEncoder(&buf).Encode(r)
	if err == nil {
		var resp *http.Response
		var httpcl *http.Client
		var reqURL string
		if strings.HasPrefix(cl.url, "unix:") {
			httpcl = &http.Client{
				Transport: &http.Transport{
					Dial: func(_, _ string) (net.Conn, error) {
						return net.Dial("unix", cl.url[5:])
					},
				},
			}
			reqURL = "http://unix" + RPCPath
		} else {
			httpcl = http.DefaultClient
			reqURL = strings.TrimSuffix(cl.url, "/") + RPCPath
		}
		resp, err = httpcl.Post(reqURL, RPCContentType, &buf)
		if err == nil {
			err = h(resp.Body)
			resp.Body.Close()
		}
	}
	return
}

// call runs r and decodes a successful response into result
func (cl *Client) call(r Request, result interface{}) error {
	return cl.doRPC(r, func(rd io.Reader) error {
		data, err := io.ReadAll(rd)
		if err != nil {
			return err
		}
		var response struct {
			Success string `json:"success"`
			Error   string `json:"error"`
		}
		if err = json.Unmarshal(data, &response); err != nil {
			return err
		}
		if response.Success != successTrue {
			return fmt.Errorf("%s", t.T(response.Error))
		}
		if result != nil {
			return json.Unmarshal(data, result)
		}
		return nil
	})
}

func (cl *Client) ListDownloads() (list []downloads.Status, err error) {
	var result struct {
		Downloads []downloads.Status `json:"downloads"`
	}
	err = cl.call(&BulkRequest{Method: MethodGetAllDownloads}, &result)
	list = result.Downloads
	return
}

func (cl *Client) bulk(method string) (n int, err error) {
	var result struct {
		Count int `json:"count"`
	}
	err = cl.call(&BulkRequest{Method: method}, &result)
	n = result.Count
	return
}

func (cl *Client) PauseAll() (int, error) {
	return cl.bulk(MethodPauseAll)
}

func (cl *Client) ResumeAll() (int, error) {
	return cl.bulk(MethodResumeAll)
}

func (cl *Client) RemoveAll() (int, error) {
	return cl.bulk(MethodRemoveAll)
}

func (cl *Client) PauseDownload(ih string) error {
	return cl.call(&ChangeDownloadRequest{Method: MethodPauseDownload, ID: ih}, nil)
}

func (cl *Client) ResumeDownload(ih string) error {
	return cl.call(&ChangeDownloadRequest{Method: MethodResumeDownload, ID: ih}, nil)
}

func (cl *Client) RemoveDownload(ih string) error {
	return cl.call(&ChangeDownloadRequest{Method: MethodRemoveDownload, ID: ih}, nil)
}

func (cl *Client) SpeedInfo() (speed downloads.SpeedInfo, err error) {
	err = cl.call(&SpeedInfoRequest{}, &speed)
	return
}

func (cl *Client) CheckTorrent(ih string) error {
	return cl.call(&CheckTorrentRequest{ID: ih}, nil)
}

// TorrentHealth is the reply to a torrent_health call
type TorrentHealth struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Seeders   int64  `json:"seeders"`
	Leechers  int64  `json:"leechers"`
	LastCheck int64  `json:"last_check"`
	NextCheck int64  `json:"next_check"`
	Status    string `json:"status"`
}

func (cl *Client) TorrentHealth(ih string) (h TorrentHealth, err error) {
	err = cl.call(&TorrentHealthRequest{ID: ih}, &h)
	return
}

func (cl *Client) SubscribeFeed(key, url string) error {
	return cl.call(&FeedRequest{Method: MethodSubscribeFeed, Key: key, URL: url}, nil)
}

func (cl *Client) UnsubscribeFeed(key, url string) error {
	return cl.call(&FeedRequest{Method: MethodUnsubscribeFeed, Key: key, URL: url}, nil)
}

func (cl *Client) ListFeeds(key string) (feeds []string, err error) {
	var result struct {
		Feeds []string `json:"feeds"`
	}
	err = cl.call(&FeedRequest{Method: MethodListFeeds, Key: key}, &result)
	feeds = result.Feeds
	return
}
