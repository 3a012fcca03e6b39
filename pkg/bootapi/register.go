package bootapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/infraguys/genesis-compute/pkg/types"
)

// Interface is one network attachment reported by a core agent.
type Interface struct {
	MAC  string `json:"mac"`
	IPv4 string `json:"ipv4"`
	Mask string `json:"mask"`
}

// RegisterRequest is the agent registration payload (§6): a Machine's
// own view of itself, optionally a Node's (when it is also the
// self-reporting HW node), and its network interfaces. CachedHash, if
// present, is the hash the agent was last told to expect; a match short-
// circuits the request.
type RegisterRequest struct {
	Machine struct {
		Image string `json:"image"`
		Node  string `json:"node"`
	} `json:"machine"`
	Node *struct {
		Cores    int    `json:"cores"`
		RAM      int    `json:"ram"`
		NodeType string `json:"node_type"`
		Image    string `json:"image"`
	} `json:"node,omitempty"`
	Interfaces []Interface `json:"interfaces"`
	CachedHash string      `json:"cached_hash,omitempty"`
}

// RegisterResponse is always what the server returns, whether or not the
// registration changed anything.
type RegisterResponse struct {
	PayloadUpdatedAt time.Time `json:"payload_updated_at"`
	PayloadHash      string    `json:"payload_hash"`
}

// ContentHash computes the stable sha256 the registration contract
// compares against the agent's cached hash: sha256 over
// {machine:{image,node}, node:{cores,ram,node_type,image}, interfaces:
// [{mac,ipv4,mask}]}, field order fixed by this canonical struct shape so
// the hash is reproducible regardless of how the request was decoded.
func ContentHash(req RegisterRequest) string {
	canon := struct {
		Machine struct {
			Image string `json:"image"`
			Node  string `json:"node"`
		} `json:"machine"`
		Node *struct {
			Cores    int    `json:"cores"`
			RAM      int    `json:"ram"`
			NodeType string `json:"node_type"`
			Image    string `json:"image"`
		} `json:"node,omitempty"`
		Interfaces []Interface `json:"interfaces"`
	}{
		Machine:    req.Machine,
		Node:       req.Node,
		Interfaces: req.Interfaces,
	}
	if canon.Interfaces == nil {
		canon.Interfaces = []Interface{}
	}

	b, _ := json.Marshal(canon)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// registerHandler implements POST /v1/agents/{uuid}/register. An unknown
// machine UUID is autodiscovery: a fresh idle HW Machine row is created
// so the scheduler can later match a HW Node to it.
func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	machineUUID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/agents/"), "/register")
	if machineUUID == "" {
		http.Error(w, "missing machine uuid", http.StatusBadRequest)
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	hash := ContentHash(req)
	now := time.Now()

	if req.CachedHash != "" && req.CachedHash == hash {
		writeJSON(w, RegisterResponse{PayloadUpdatedAt: now, PayloadHash: hash})
		return
	}

	if err := s.applyRegistration(machineUUID, req); err != nil {
		s.logger.Error().Err(err).Str("machine", machineUUID).Msg("failed to apply agent registration")
		http.Error(w, "registration failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, RegisterResponse{PayloadUpdatedAt: now, PayloadHash: hash})
}

// applyRegistration persists the registration payload: creates the
// Machine (and, for a self-reporting HW node, the Node's own cores/ram/
// image) on first contact, updates it on drift, and mirrors the primary
// interface onto the Machine's Port (§4.2's flat single-port contract).
func (s *Server) applyRegistration(machineUUID string, req RegisterRequest) error {
	m, err := s.store.GetMachine(machineUUID)
	if err != nil {
		m = &types.Machine{
			Base:         types.Base{UUID: machineUUID},
			MachineType:  types.NodeTypeHW,
			Status:       types.MachineStatusActive,
			FirmwareUUID: machineUUID,
		}
		m.Image = req.Machine.Image
		if err := s.store.CreateMachine(m); err != nil {
			return err
		}
	} else {
		m.Image = req.Machine.Image
		if err := s.store.UpdateMachine(m); err != nil {
			return err
		}
	}

	if req.Node != nil && m.Node != "" {
		if n, err := s.store.GetNode(m.Node); err == nil {
			n.Cores, n.RAM, n.NodeType, n.Image = req.Node.Cores, req.Node.RAM, types.NodeType(req.Node.NodeType), req.Node.Image
			if err := s.store.UpdateNode(n); err != nil {
				return err
			}
		}
	}

	if len(req.Interfaces) == 0 {
		return nil
	}
	primary := req.Interfaces[0]

	ports, err := s.store.ListPortsByMachine(m.UUID)
	if err != nil {
		return err
	}
	if len(ports) > 0 {
		p := ports[0]
		p.MAC, p.IPv4, p.Mask = primary.MAC, primary.IPv4, primary.Mask
		return s.store.UpdatePort(p)
	}

	return s.store.CreatePort(&types.Port{
		Base:    types.Base{UUID: machineUUID + "-port0"},
		Machine: m.UUID,
		MAC:     primary.MAC,
		IPv4:    primary.IPv4,
		Mask:    primary.Mask,
		Status:  "ACTIVE",
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
