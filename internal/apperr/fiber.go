package apperr

import "github.com/gofiber/fiber/v2"

// Fiber converts err into the *fiber.Error a handler returns.
func Fiber(err error) error {
	return fiber.NewError(HTTPStatus(err), Message(err))
}
