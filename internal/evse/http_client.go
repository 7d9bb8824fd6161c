package evse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"fenwick-energy/phase-switcher/internal/logic"
)

// httpClient polls and commands a WARP-style EVSE controller reachable
// as a sibling device on the local network, replacing the original
// firmware's in-process api.getState/api.callCommand calls (the
// original ran on the same microcontroller as the EVSE logic; here they
// are separate processes/devices).
type httpClient struct {
	baseURL string
	hc      *http.Client
}

// NewHTTPClient creates a Client that talks to an EVSE controller at
// baseURL (e.g. "http://192.168.1.50").
func NewHTTPClient(baseURL string) Client {
	return &httpClient{
		baseURL: baseURL,
		hc:      &http.Client{Timeout: 3 * time.Second},
	}
}

type evseStateResponse struct {
	ChargerState   uint8 `json:"charger_state"`
	ContactorState int   `json:"contactor_state"`
}

type evseLowLevelStateResponse struct {
	GPIO []bool `json:"gpio"`
}

type evseAutoStartResponse struct {
	AutoStartCharging bool `json:"auto_start_charging"`
}

// iec61851StateResponse is folded into evseStateResponse on real WARP
// firmware but kept separate here to mirror the original's two distinct
// getState calls.
type iec61851StateResponse struct {
	IEC61851State uint8 `json:"iec61851_state"`
}

func (c *httpClient) getJSON(path string, out interface{}) error {
	resp, err := c.hc.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *httpClient) postJSON(path string, body interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
	}
	resp, err := c.hc.Post(c.baseURL+path, "application/json", &buf)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("post %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}

// Poll implements Client.
func (c *httpClient) Poll() (State, error) {
	var state evseStateResponse
	if err := c.getJSON("/evse/state", &state); err != nil {
		return State{}, err
	}
	var low evseLowLevelStateResponse
	if err := c.getJSON("/evse/low_level_state", &low); err != nil {
		return State{}, err
	}
	var iec iec61851StateResponse
	if err := c.getJSON("/evse/iec61851_state", &iec); err != nil {
		return State{}, err
	}
	var auto evseAutoStartResponse
	if err := c.getJSON("/evse/auto_start_charging", &auto); err != nil {
		return State{}, err
	}

	button := len(low.GPIO) > 0 && low.GPIO[0]
	relayOutput := len(low.GPIO) > 3 && low.GPIO[3]

	return State{
		ChargerState:      chargerStateFrom(state.ChargerState),
		IEC61851State:     iec61851StateFrom(iec.IEC61851State),
		AutoStartCharging: auto.AutoStartCharging,
		ContactorState:    state.ContactorState,
		ButtonPressed:     button,
		RelayOutput:       relayOutput,
	}, nil
}

// StartCharging implements Client.
func (c *httpClient) StartCharging() error {
	return c.postJSON("/evse/start_charging", nil)
}

// StopCharging implements Client.
func (c *httpClient) StopCharging() error {
	return c.postJSON("/evse/stop_charging", nil)
}

type externalCurrentUpdate struct {
	Current uint32 `json:"current"`
}

// SetExternalCurrent implements Client.
func (c *httpClient) SetExternalCurrent(mA uint32) error {
	return c.postJSON("/evse/external_current_update", externalCurrentUpdate{Current: ClampCurrent(mA)})
}

func chargerStateFrom(v uint8) logic.ChargerState { return logic.ChargerState(v) }

func iec61851StateFrom(v uint8) logic.IEC61851State { return logic.IEC61851State(v) }
