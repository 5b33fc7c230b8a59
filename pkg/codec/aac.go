package codec

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/icza/bitio"
)

// Errors.
var (
	ErrConfigSampleRateInvalid = errors.New("invalid sample rate index")
	ErrConfigChannelInvalid    = errors.New("invalid channel configuration")
)

var sampleRates = [13]int{
	96000, 88200, 64000, 48000, 44100, 32000,
	24000, 22050, 16000, 12000, 11025, 8000, 7350,
}

// AudioSpecificConfig is the MPEG-4 audio configuration carried in the
// DecSpecificInfo of an esds box.
type AudioSpecificConfig struct {
	ObjectType   uint8
	SampleRate   int
	ChannelCount int
}

// Decode decodes an AudioSpecificConfig.
func (c *AudioSpecificConfig) Decode(byts []byte) error {
	// ref: https://wiki.multimedia.cx/index.php/MPEG-4_Audio

	r := bitio.NewReader(bytes.NewBuffer(byts))

	tmp, err := r.ReadBits(5)
	if err != nil {
		return err
	}
	c.ObjectType = uint8(tmp)
	if c.ObjectType == 31 {
		// Escape value: 6 more bits hold objectType - 32.
		tmp, err = r.ReadBits(6)
		if err != nil {
			return err
		}
		c.ObjectType = uint8(tmp) + 32
	}

	sampleRateIndex, err := r.ReadBits(4)
	if err != nil {
		return err
	}

	switch {
	case sampleRateIndex <= 12:
		c.SampleRate = sampleRates[sampleRateIndex]

	case sampleRateIndex == 15:
		tmp, err := r.ReadBits(24)
		if err != nil {
			return err
		}
		c.SampleRate = int(tmp)

	default:
		return fmt.Errorf("%w (%d)", ErrConfigSampleRateInvalid, sampleRateIndex)
	}

	channelConfig, err := r.ReadBits(4)
	if err != nil {
		return err
	}

	switch {
	case channelConfig >= 1 && channelConfig <= 6:
		c.ChannelCount = int(channelConfig)

	case channelConfig == 7:
		c.ChannelCount = 8

	default:
		return fmt.Errorf("%w (%d)", ErrConfigChannelInvalid, channelConfig)
	}

	return nil
}
