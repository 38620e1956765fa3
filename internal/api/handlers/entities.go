package handlers

import (
	"net/http"
	"sort"

	"github.com/frostdev-ops/hmip-go/pkg/utils"
	"github.com/gin-gonic/gin"
)

// sortedValues returns the map values ordered by key, so listings are stable
func sortedValues[V any](m map[string]V) []V {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]V, 0, len(keys))
	for _, k := range keys {
		values = append(values, m[k])
	}
	return values
}

func (h *Handlers) GetDevices(c *gin.Context) {
	devices := sortedValues(h.svc.Controller().Mirror().Devices())
	utils.SendSuccessWithMeta(c, devices, gin.H{"count": len(devices)})
}

func (h *Handlers) GetDevice(c *gin.Context) {
	device, ok := h.svc.Controller().Mirror().Device(c.Param("id"))
	if !ok {
		utils.SendError(c, http.StatusNotFound, "Device not found")
		return
	}
	utils.SendSuccess(c, device)
}

func (h *Handlers) GetGroups(c *gin.Context) {
	groups := sortedValues(h.svc.Controller().Mirror().Groups())
	utils.SendSuccessWithMeta(c, groups, gin.H{"count": len(groups)})
}

func (h *Handlers) GetClients(c *gin.Context) {
	clients := sortedValues(h.svc.Controller().Mirror().Clients())
	utils.SendSuccessWithMeta(c, clients, gin.H{"count": len(clients)})
}

func (h *Handlers) GetHome(c *gin.Context) {
	home := h.svc.Controller().Mirror().Home()
	if home == nil {
		utils.SendError(c, http.StatusNotFound, "Home not loaded yet")
		return
	}
	utils.SendSuccess(c, home)
}

// ReloadSnapshot refetches the full state and replaces the mirror
func (h *Handlers) ReloadSnapshot(c *gin.Context) {
	if err := h.svc.Resync(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccess(c, h.svc.Controller().Mirror().Counts())
}
