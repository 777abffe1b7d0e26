package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mjpegsw/internal/camera"
	"mjpegsw/internal/stream"
)

// StatusResponse は /api/status の応答
type StatusResponse struct {
	Capture    camera.Status     `json:"capture"`
	Capturing  bool              `json:"capturing"`
	Stalled    bool              `json:"stalled"`
	Resolution camera.Resolution `json:"resolution"`
	Rotate     bool              `json:"rotate"`
	Threshold  int               `json:"stall_threshold"`
	LastSeq    uint64            `json:"last_seq"`
	Timestamp  time.Time         `json:"timestamp"`
}

// DevicesResponse は /api/devices の応答
type DevicesResponse struct {
	Devices []camera.DeviceInfo `json:"devices"`
}

// ErrorResponse はエラー応答
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	s.engine.GET("/", s.handleRoot)
	s.engine.GET("/cam.mjpg", s.handleStream)
	s.engine.GET("/snap.jpg", s.handleSnapshot)
	s.engine.GET("/cam.ws", s.handleWebSocket)

	// ヘルスチェックエンドポイント
	s.engine.GET("/health", s.handleHealth)

	// APIエンドポイント
	api := s.engine.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/devices", s.handleDevices)
}

// handleRoot はストリームへリダイレクトする
func (s *Server) handleRoot(c *gin.Context) {
	c.Redirect(http.StatusFound, "/cam.mjpg")
}

// handleStream はMJPEGストリームを配信する
// ソースの不調はエラー応答にせず、新しいチャンクが届かないことで表す
func (s *Server) handleStream(c *gin.Context) {
	// レスポンスヘッダーを設定
	c.Header("Content-Type", stream.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Status(http.StatusOK)

	writer := c.Writer
	writer.WriteHeaderNow()
	writer.Flush()

	feed := stream.NewFeed(s.store, s.encoder, s.config.Stream.Interval, s.logger)
	for chunk := range feed.Chunks(c.Request.Context()) {
		if _, err := writer.Write(chunk); err != nil {
			// クライアントが切断された
			return
		}
		writer.Flush()
	}
}

// handleSnapshot は現在のフレームを1枚返す
// まだフレームが無い場合やエンコードに失敗した場合は空の200を返す
func (s *Server) handleSnapshot(c *gin.Context) {
	data, err := stream.Snapshot(s.store, s.encoder)
	if err != nil {
		s.logger.Warn("スナップショットのエンコードに失敗しました", "error", err)
		data = nil
	}

	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", data)
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// handleStatus はキャプチャの状態を返す
func (s *Server) handleStatus(c *gin.Context) {
	res, rotate := s.store.Config()

	response := StatusResponse{
		Capture:    s.supervisor.Status(),
		Capturing:  s.store.IsCapturing(),
		Stalled:    s.store.IsStalled(),
		Resolution: res,
		Rotate:     rotate,
		Threshold:  s.supervisor.Threshold(),
		Timestamp:  time.Now(),
	}
	if frame := s.store.Read(); frame != nil {
		response.LastSeq = frame.Seq
	}

	c.JSON(http.StatusOK, response)
}

// handleDevices は検出されたビデオデバイスの一覧を返す
func (s *Server) handleDevices(c *gin.Context) {
	ctx := c.Request.Context()

	devices, err := s.discovery.ScanDevices(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "discovery_failed",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		return
	}

	infos := make([]camera.DeviceInfo, 0, len(devices))
	for _, device := range devices {
		info, err := s.discovery.GetDeviceInfo(ctx, device)
		if err != nil {
			s.logger.Debug("デバイス情報を取得できません", "device", device, "error", err)
			continue
		}
		infos = append(infos, *info)
	}

	c.JSON(http.StatusOK, DevicesResponse{Devices: infos})
}
