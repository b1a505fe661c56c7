package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

func write(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, APIResponse{
		Status:  status,
		Message: http.StatusText(status),
		Data:    data,
	})
}

func SuccessResponse(c echo.Context, data interface{}) error {
	return write(c, http.StatusOK, data)
}

// ListResponse writes rows with their count.
func ListResponse(c echo.Context, rows interface{}, count int) error {
	return write(c, http.StatusOK, ListData{Rows: rows, Count: count})
}

// AcceptedResponse is used for commands applied at the next engine cycle.
func AcceptedResponse(c echo.Context, data interface{}) error {
	return write(c, http.StatusAccepted, data)
}

// BadRequestResponse writes validation failures from ReadAndValidateRequest.
func BadRequestResponse(c echo.Context, data interface{}) error {
	return write(c, http.StatusBadRequest, data)
}

// AppErrorResponse writes an AppError with its own status and anything else as a bare 500.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return write(c, appErr.Status, []*AppError{appErr})
	}
	return write(c, http.StatusInternalServerError, []*AppError{InternalError("something went wrong")})
}
