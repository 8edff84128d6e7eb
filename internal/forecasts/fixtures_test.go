package forecasts

// providerBody is a trimmed provider document for 2024-05-01 in Europe/Berlin.
const providerBody = `{
  "latitude": 52.52,
  "longitude": 13.41,
  "timezone": "Europe/Berlin",
  "current": {
    "time": 1714564800,
    "interval": 900,
    "temperature_2m": 21.5,
    "wind_speed_10m": 3.2,
    "rain": null,
    "precipitation": 0,
    "showers": 0,
    "snowfall": 0,
    "weather_code": 3
  },
  "hourly": {
    "time": [1714564800, 1714568400, 1714572000],
    "temperature_2m": [10.1, null, 12.3],
    "rain": [0, 0.4, 1.2],
    "precipitation_probability": [5, 40]
  },
  "daily": {
    "time": [1714514400, 1714600800],
    "temperature_2m_max": [20, 22],
    "temperature_2m_min": [8, null],
    "et0_fao_evapotranspiration": [3.1, 3.4]
  }
}`
