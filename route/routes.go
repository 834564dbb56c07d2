package route

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"imagehub/controller"
	"imagehub/middlewares"
)

// Register mounts every route on the router. File endpoints sit behind the
// JWT middleware so the caller identity scopes uploads and listings.
func Register(router *gin.Engine, images *controller.ImageController, users *controller.UserController, jwtSecret string) {
	router.GET("/", func(c *gin.Context) {
		c.HTML(http.StatusOK, "home.html", nil)
	})

	router.POST("/register", users.Register)
	router.POST("/login", users.Login)
	router.POST("/logout", users.Logout)

	protected := router.Group("/")
	protected.Use(middlewares.JWT(jwtSecret))
	protected.POST("/upload-image", images.Upload)
	protected.POST("/upload", images.Upload)
	protected.GET("/files", images.ListFiles)
	protected.GET("/files/:filename", images.GetFile)
}
