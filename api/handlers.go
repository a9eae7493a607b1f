package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blndgs/aawallet/registry"
)

type accountsResponse struct {
	Accounts []registry.Account `json:"accounts"`
	ActiveID string             `json:"activeId,omitempty"`
}

type nameRequest struct {
	Name string `json:"name" binding:"required,max=64"`
}

func (s *Server) listAccounts(c *gin.Context) {
	resp := accountsResponse{Accounts: s.accounts.VisibleAccounts()}
	if c.Query("hidden") == "true" {
		resp.Accounts = s.accounts.Accounts()
	}
	if active, err := s.accounts.ActiveAccount(); err == nil {
		resp.ActiveID = active.ID
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) activeAccount(c *gin.Context) {
	acct, err := s.accounts.ActiveAccount()
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (s *Server) getAccount(c *gin.Context) {
	acct, err := s.accounts.Account(c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (s *Server) createAccount(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"max=64"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	acct, err := s.accounts.CreateAccount(c.Request.Context(), req.Name)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, acct)
}

func (s *Server) renameAccount(c *gin.Context) {
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	acct, err := s.accounts.RenameAccount(c.Request.Context(), c.Param("id"), req.Name)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (s *Server) hideAccount(c *gin.Context) {
	acct, err := s.accounts.HideAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (s *Server) unhideAccount(c *gin.Context) {
	acct, err := s.accounts.UnhideAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (s *Server) switchAccount(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.accounts.SwitchAccount(c.Request.Context(), id); err != nil {
		abort(c, err)
		return
	}
	acct, err := s.accounts.Account(id)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (s *Server) consolidationPlan(c *gin.Context) {
	plan, err := s.consolidator.Plan(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (s *Server) startConsolidation(c *gin.Context) {
	plan, err := s.consolidator.Start(s.runCtx)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusAccepted, plan)
}

func (s *Server) consolidationProgress(c *gin.Context) {
	progress := s.consolidator.Progress()
	if progress == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no consolidation has run"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"running":  s.consolidator.Running(),
		"progress": progress,
	})
}

func (s *Server) clearConsolidation(c *gin.Context) {
	if err := s.consolidator.Clear(); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
