package http

type Config struct {
	Port uint `mapstructure:"port" validate:"required"`
}
