package climate

// Web server payload keys.
const (
	KeyWSType            = "ws_type"
	KeyStatus            = keyStatus
	KeyStatAPMAC         = "stat_ap_mac"
	KeyStatChannel       = "stat_channel"
	KeyStatSSID          = "stat_ssid"
	KeyStatQuality       = "stat_quality"
	KeyStatRSSI          = "stat_rssi"
	KeyWSFirmware        = "ws_fw"
	KeyConnectionDate    = "connection_date"
	KeyDisconnectionDate = "disconnection_date"
	KeyCPUWS             = "cpu_ws"
	KeyFreeMem           = "free_mem"
)

// WebServerState is a point-in-time copy of a WebServer.
type WebServerState struct {
	ID                string
	InstallationID    string
	Name              string
	Type              *string
	Connected         bool
	Firmware          *string
	ConnectionDate    *string
	DisconnectionDate *string
	CPUUsage          *int
	MemoryFree        *int
	WifiChannel       *int
	WifiMAC           *string
	WifiQuality       *int
	WifiRSSI          *int
	WifiSSID          *string
}

// WebServer is the cloud gateway that devices are attached to.
type WebServer struct {
	record
	st WebServerState
}

// NewWebServer creates an offline WebServer placeholder. Its state is
// filled by the first update.
func NewWebServer(instID, wsID string) *WebServer {
	return &WebServer{st: WebServerState{
		ID:             wsID,
		InstallationID: instID,
		Name:           "WebServer " + wsID,
	}}
}

// ID returns the web server id.
func (w *WebServer) ID() string { return w.st.ID }

// InstallationID returns the owning installation id.
func (w *WebServer) InstallationID() string { return w.st.InstallationID }

// Apply applies u if it is not older than the current state.
//
// Polled and full payloads nest fields under config and status. Push
// partial payloads carry status fields at the top level once flattened.
func (w *WebServer) Apply(u Update) bool {
	return w.apply(u, func(data map[string]any) {
		if v, ok := getString(data, KeyWSType); ok {
			w.st.Type = ptr(v)
		}

		var cfg, status map[string]any
		if u.Origin == OriginPushPartial {
			status = data
		} else {
			cfg = getMap(data, KeyConfig)
			status = getMap(data, KeyStatus)
		}

		if cfg != nil {
			if v, ok := getString(cfg, KeyStatAPMAC); ok {
				w.st.WifiMAC = ptr(v)
			}
			if v, ok := getInt(cfg, KeyStatChannel); ok {
				w.st.WifiChannel = ptr(v)
			}
			if v, ok := getString(cfg, KeyStatSSID); ok {
				w.st.WifiSSID = ptr(v)
			}
			if v, ok := getString(cfg, KeyWSFirmware); ok {
				w.st.Firmware = ptr(v)
			}
		}

		if status != nil {
			if v, ok := getString(status, KeyConnectionDate); ok {
				w.st.ConnectionDate = ptr(v)
			}
			if v, ok := getInt(getMap(status, KeyCPUWS), "general"); ok {
				w.st.CPUUsage = ptr(v)
			}
			if v, ok := getString(status, KeyDisconnectionDate); ok {
				w.st.DisconnectionDate = ptr(v)
			}
			if v, ok := getBool(status, KeyIsConnected); ok {
				w.st.Connected = v
			}
			if v, ok := getInt(getMap(status, KeyFreeMem), "free"); ok {
				w.st.MemoryFree = ptr(v)
			}
			if v, ok := getInt(status, KeyStatQuality); ok {
				w.st.WifiQuality = ptr(v)
			}
			if v, ok := getInt(status, KeyStatRSSI); ok {
				w.st.WifiRSSI = ptr(v)
			}
		}
	})
}

// Available reports whether the web server is connected to the cloud.
func (w *WebServer) Available() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.st.Connected
}

// State returns a copy of the web server state.
func (w *WebServer) State() WebServerState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.st
}

// Data returns a JSON-ready snapshot.
func (w *WebServer) Data() map[string]any {
	st := w.State()
	data := map[string]any{
		"id":           st.ID,
		"installation": st.InstallationID,
		"name":         st.Name,
		"available":    st.Connected,
	}
	putPtr(data, "type", st.Type)
	putPtr(data, "firmware", st.Firmware)
	putPtr(data, "connection-date", st.ConnectionDate)
	putPtr(data, "disconnection-date", st.DisconnectionDate)
	putPtr(data, "cpu-usage", st.CPUUsage)
	putPtr(data, "memory-free", st.MemoryFree)
	putPtr(data, "wifi-channel", st.WifiChannel)
	putPtr(data, "wifi-mac", st.WifiMAC)
	putPtr(data, "wifi-quality", st.WifiQuality)
	putPtr(data, "wifi-rssi", st.WifiRSSI)
	putPtr(data, "wifi-ssid", st.WifiSSID)
	return data
}
