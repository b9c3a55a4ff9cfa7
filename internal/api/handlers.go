package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-server-go/internal/models"
	"github.com/lorawan-server/lorawan-server-go/internal/storage"
	"github.com/lorawan-server/lorawan-server-go/pkg/crypto"
	"github.com/lorawan-server/lorawan-server-go/pkg/lorawan"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Error().Err(err).Msg("encode response")
		}
	}
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// storeStatus maps a storage error onto an HTTP status
func storeStatus(err error) int {
	switch err {
	case storage.ErrNotFound:
		return http.StatusNotFound
	case storage.ErrDuplicateKey:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// authMiddleware verifies the bearer token
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		if _, err := s.auth.VerifyToken(token); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HandleHealth reports liveness
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleLogin authenticates a user and returns a token
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil || !crypto.VerifyPassword(req.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.auth.GenerateToken(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token generation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// pagination reads limit/offset query parameters
func pagination(r *http.Request) (limit, offset int) {
	limit = 100
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 1000 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

func macParam(r *http.Request, name string) (lorawan.EUI64, error) {
	return lorawan.ParseEUI64(chi.URLParam(r, name))
}

func devAddrParam(r *http.Request, name string) (lorawan.DevAddr, error) {
	return lorawan.ParseDevAddr(chi.URLParam(r, name))
}

// HandleListGateways lists gateways
func (s *RESTServer) HandleListGateways(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	gateways, err := s.store.ListGateways(r.Context(), limit, offset)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, gateways)
}

// HandleCreateGateway creates a gateway
func (s *RESTServer) HandleCreateGateway(w http.ResponseWriter, r *http.Request) {
	var gw models.Gateway
	if err := json.NewDecoder(r.Body).Decode(&gw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.store.CreateGateway(r.Context(), &gw); err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, gw)
}

// HandleGetGateway gets a gateway
func (s *RESTServer) HandleGetGateway(w http.ResponseWriter, r *http.Request) {
	mac, err := macParam(r, "mac")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid gateway MAC")
		return
	}

	gw, err := s.store.GetGateway(r.Context(), mac)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, gw)
}

// HandleUpdateGateway updates a gateway
func (s *RESTServer) HandleUpdateGateway(w http.ResponseWriter, r *http.Request) {
	mac, err := macParam(r, "mac")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid gateway MAC")
		return
	}

	var gw models.Gateway
	if err := json.NewDecoder(r.Body).Decode(&gw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	gw.MAC = mac

	if err := s.store.PutGateway(r.Context(), &gw); err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, gw)
}

// HandleDeleteGateway deletes a gateway
func (s *RESTServer) HandleDeleteGateway(w http.ResponseWriter, r *http.Request) {
	mac, err := macParam(r, "mac")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid gateway MAC")
		return
	}

	if err := s.store.DeleteGateway(r.Context(), mac); err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// HandleListDevices lists devices
func (s *RESTServer) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	devices, err := s.store.ListDevices(r.Context(), limit, offset)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

// HandleCreateDevice creates a device
func (s *RESTServer) HandleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	device, err := req.toModel()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.CreateDevice(r.Context(), device); err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, device)
}

// deviceRequest is the provisioning representation of a device. The
// AppKey transits as hex.
type deviceRequest struct {
	DevEUI     string             `json:"devEUI"`
	AppKey     string             `json:"appKey"`
	CanJoin    *bool              `json:"canJoin"`
	Region     string             `json:"region"`
	App        string             `json:"app"`
	AppID      string             `json:"appID"`
	AppArgs    string             `json:"appArgs"`
	ADRFlagSet *bool              `json:"adrFlagSet"`
	ADRSet     *lorawan.ADRConfig `json:"adrSet"`
	RXWinSet   *lorawan.RXWin     `json:"rxwinSet"`
	FCntCheck  int                `json:"fcntCheck"`
}

func (r deviceRequest) toModel() (*models.Device, error) {
	devEUI, err := lorawan.ParseEUI64(r.DevEUI)
	if err != nil {
		return nil, err
	}
	appKey, err := lorawan.ParseAES128Key(r.AppKey)
	if err != nil {
		return nil, err
	}

	if _, err := lorawan.GetRegion(r.Region); err != nil {
		return nil, err
	}

	canJoin := true
	if r.CanJoin != nil {
		canJoin = *r.CanJoin
	}

	return &models.Device{
		DevEUI:     devEUI,
		AppKey:     appKey,
		CanJoin:    canJoin,
		Region:     r.Region,
		App:        r.App,
		AppID:      r.AppID,
		AppArgs:    r.AppArgs,
		ADRFlagSet: r.ADRFlagSet,
		ADRSet:     r.ADRSet,
		RXWinSet:   r.RXWinSet,
		FCntCheck:  models.FCntCheck(r.FCntCheck),
	}, nil
}

// HandleGetDevice gets a device
func (s *RESTServer) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	devEUI, err := macParam(r, "dev_eui")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid DevEUI")
		return
	}

	device, err := s.store.GetDevice(r.Context(), devEUI)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, device)
}

// HandleUpdateDevice updates a device
func (s *RESTServer) HandleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	devEUI, err := macParam(r, "dev_eui")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid DevEUI")
		return
	}

	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	device, err := req.toModel()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	device.DevEUI = devEUI

	// Keep the join state of the existing row.
	existing, err := s.store.GetDevice(r.Context(), devEUI)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	device.DevAddr = existing.DevAddr
	device.LastJoin = existing.LastJoin
	device.CreatedAt = existing.CreatedAt

	if err := s.store.PutDevice(r.Context(), device); err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, device)
}

// HandleDeleteDevice deletes a device
func (s *RESTServer) HandleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	devEUI, err := macParam(r, "dev_eui")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid DevEUI")
		return
	}

	if err := s.store.DeleteDevice(r.Context(), devEUI); err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// HandleGetLink gets a link
func (s *RESTServer) HandleGetLink(w http.ResponseWriter, r *http.Request) {
	devAddr, err := devAddrParam(r, "dev_addr")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid DevAddr")
		return
	}

	link, err := s.store.GetLink(r.Context(), devAddr)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// HandleDeleteLink deletes a link
func (s *RESTServer) HandleDeleteLink(w http.ResponseWriter, r *http.Request) {
	devAddr, err := devAddrParam(r, "dev_addr")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid DevAddr")
		return
	}

	if err := s.store.DeleteLink(r.Context(), devAddr); err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// HandleListRxFrames lists the RX log of a link
func (s *RESTServer) HandleListRxFrames(w http.ResponseWriter, r *http.Request) {
	devAddr, err := devAddrParam(r, "dev_addr")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid DevAddr")
		return
	}

	limit, offset := pagination(r)
	frames, err := s.store.ListRxFrames(r.Context(), devAddr, limit, offset)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, frames)
}

// HandleEnqueueDownlink queues an application downlink
func (s *RESTServer) HandleEnqueueDownlink(w http.ResponseWriter, r *http.Request) {
	devAddr, err := devAddrParam(r, "dev_addr")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid DevAddr")
		return
	}

	var req struct {
		Port      uint8  `json:"port"`
		Data      []byte `json:"data"`
		Confirmed bool   `json:"confirmed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := s.store.GetLink(r.Context(), devAddr); err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}

	frame := &models.TxFrame{
		DevAddr:   devAddr,
		Port:      req.Port,
		Data:      req.Data,
		Confirmed: req.Confirmed,
	}
	if err := s.store.PutTxFrame(r.Context(), frame); err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, frame)
}

// HandleListIgnored lists the ignored-link patterns
func (s *RESTServer) HandleListIgnored(w http.ResponseWriter, r *http.Request) {
	links, err := s.store.ListIgnored(r.Context())
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, links)
}

// HandlePutIgnored creates or replaces an ignored-link pattern
func (s *RESTServer) HandlePutIgnored(w http.ResponseWriter, r *http.Request) {
	var link models.IgnoredLink
	if err := json.NewDecoder(r.Body).Decode(&link); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.store.PutIgnored(r.Context(), &link); err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

// HandleDeleteIgnored deletes an ignored-link pattern
func (s *RESTServer) HandleDeleteIgnored(w http.ResponseWriter, r *http.Request) {
	devAddr, err := devAddrParam(r, "dev_addr")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid DevAddr")
		return
	}

	if err := s.store.DeleteIgnored(r.Context(), devAddr); err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// multicastRequest is the provisioning representation of a multicast
// group. Keys transit as hex.
type multicastRequest struct {
	DevAddr string        `json:"devAddr"`
	NwkSKey string        `json:"nwkSKey"`
	AppSKey string        `json:"appSKey"`
	Region  string        `json:"region"`
	RXWin   lorawan.RXWin `json:"rxwin"`
}

// HandlePutMulticastGroup creates or replaces a multicast group
func (s *RESTServer) HandlePutMulticastGroup(w http.ResponseWriter, r *http.Request) {
	var req multicastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	devAddr, err := lorawan.ParseDevAddr(req.DevAddr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid DevAddr")
		return
	}
	nwkSKey, err := lorawan.ParseAES128Key(req.NwkSKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid NwkSKey")
		return
	}
	appSKey, err := lorawan.ParseAES128Key(req.AppSKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid AppSKey")
		return
	}
	if _, err := lorawan.GetRegion(req.Region); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	group := &models.MulticastGroup{
		DevAddr: devAddr,
		NwkSKey: nwkSKey,
		AppSKey: appSKey,
		Region:  req.Region,
		RXWin:   req.RXWin,
	}
	if err := s.store.PutMulticastGroup(r.Context(), group); err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

// HandleGetMulticastGroup gets a multicast group
func (s *RESTServer) HandleGetMulticastGroup(w http.ResponseWriter, r *http.Request) {
	devAddr, err := devAddrParam(r, "dev_addr")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid DevAddr")
		return
	}

	group, err := s.store.GetMulticastGroup(r.Context(), devAddr)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// HandleListMulticastGroups lists multicast groups
func (s *RESTServer) HandleListMulticastGroups(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	groups, err := s.store.ListMulticastGroups(r.Context(), limit, offset)
	if err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// HandleDeleteMulticastGroup deletes a multicast group
func (s *RESTServer) HandleDeleteMulticastGroup(w http.ResponseWriter, r *http.Request) {
	devAddr, err := devAddrParam(r, "dev_addr")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid DevAddr")
		return
	}

	if err := s.store.DeleteMulticastGroup(r.Context(), devAddr); err != nil {
		writeError(w, storeStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
