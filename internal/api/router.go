package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Router wires all routes. POST actions authenticate inside their handlers
// (the envelope travels in the JSON body); the GET aggregate does not.
func (h *Handler) Router() *gin.Engine {
	r := gin.Default()

	r.GET("/", h.Welcome)
	r.GET("/api/getUserData", h.GetUserData)

	r.POST("/api/freeBet", h.FreeBet)
	r.POST("/api/claimDailyBonus", h.ClaimDailyBonus)
	r.POST("/api/awardStarFragments", h.AwardStarFragments)
	r.POST("/api/craftNft", h.CraftNft)
	r.POST("/api/awardAdReward", h.AwardAdReward)

	r.NoRoute(notFound)
	r.NoMethod(notFound)
	return r
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "Not Found or Method Not Allowed"})
}
